package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/carelens/edrisk/config"
	"github.com/carelens/edrisk/internal/engine"
)

func chatCMD() *cobra.Command {
	var cfgPath string
	var chat = &cobra.Command{
		Use:   "chat",
		Short: "Interactive assessment session on the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			logger := log.New(os.Stderr, "[CHAT] ", log.LstdFlags)
			rt, err := engine.BuildRuntime(cmd.Context(), cfg, prometheus.NewRegistry(), logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			fmt.Println("ED risk advisor. Type a patient description, 'help', or 'exit'.")
			scanner := bufio.NewScanner(os.Stdin)
			sessionID := ""
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "exit" || line == "quit" {
					break
				}
				res, err := rt.Engine.Turn(cmd.Context(), engine.TurnRequest{
					SessionID: sessionID,
					Message:   line,
				})
				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					continue
				}
				sessionID = res.SessionID
				fmt.Println()
				fmt.Println(res.Reply)
				fmt.Println()
			}
			return scanner.Err()
		},
	}
	chat.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")
	return chat
}
