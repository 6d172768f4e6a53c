// Package cli holds the mailman command line.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for the mailman CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailman",
		Short: "Scheduled reminders and nurturing campaigns for the school",
		Long: `mailman sends the school's scheduled reminder emails and moves users
through nurturing campaigns. Runs are triggered by cron, HTTP, AMQP,
the Telegram admin bot or the trigger command.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewTriggerCommand())
	cmd.AddCommand(NewMigrateCommand())
	cmd.AddCommand(NewJobsCommand())
	return cmd
}
