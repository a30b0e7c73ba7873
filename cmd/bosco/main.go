// Bosco coordinates security, DevOps and research agents through tasks and
// workflows.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bosco-os/bosco/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "bosco",
	Short: "Bosco: a multi-agent orchestrator for security, DevOps and research tasks.",
	Long: `Bosco routes tasks to specialized agents by capability and runs
multi-step workflows across them. Use it one-shot from the command line,
as an interactive shell, as a long-running HTTP service, or as an MCP server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	_ = godotenv.Load()
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to config file (or BOSCO_CONFIG env)")
	rootCmd.AddCommand(serveCmd, shellCmd, runCmd, taskCmd, workflowCmd, statusCmd, queryCmd, mcpCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		}
		os.Exit(1)
	}
}
