package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carelens/edrisk/internal/retrieval"
)

func indexCMD() *cobra.Command {
	var srcDir, outPath string
	var index = &cobra.Command{
		Use:   "index",
		Short: "Chunk knowledge-base documents into the lexical artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			chunks, err := retrieval.BuildChunks(srcDir)
			if err != nil {
				return err
			}
			if err := retrieval.WriteChunks(chunks, outPath); err != nil {
				return err
			}
			fmt.Printf("wrote %d chunks to %s\n", len(chunks), outPath)
			return nil
		},
	}
	index.Flags().StringVar(&srcDir, "src", "kb", "directory of .md/.html source documents")
	index.Flags().StringVar(&outPath, "out", "artifacts/kb_chunks.json", "output chunk artifact")
	return index
}
