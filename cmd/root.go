package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:          "edrisk",
		Short:        "ED revisit and admission risk advisor",
		SilenceUsage: true,
	}

	root.AddCommand(serveCMD(), chatCMD(), indexCMD(), migrateCMD())
	_ = root.Execute()
}
