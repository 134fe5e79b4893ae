// Package cli wires the taskdeck commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "taskdeck",
	Short: "Task tracker with automated QA review dispatch",
	Long: `taskdeck tracks tasks through their lifecycle and hands tasks that
enter review off to an external QA agent session via the agent gateway.

Storage runs on embedded SQLite by default; set database.url (or
TASKDECK_DATABASE_URL) to a PostgreSQL connection string to use a shared
server instead.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
