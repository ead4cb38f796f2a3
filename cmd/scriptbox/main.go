// Scriptbox — sandboxed script execution against production databases.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scriptbox",
	Short: "Scriptbox — human-approved script execution for production databases.",
	Long: `Scriptbox runs one-off JavaScript and Python maintenance scripts against
registered PostgreSQL and MongoDB instances. Scripts are statically validated,
held for human review, and executed in isolated worker processes under strict
timeout and memory limits. Credentials never leave the environment.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, validateCmd, runCmd, requestCmd, instancesCmd, setupCmd, versionCmd)
	_ = godotenv.Load()

}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
