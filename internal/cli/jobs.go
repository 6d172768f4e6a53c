package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewJobsCommand creates the jobs command.
func NewJobsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List reminder jobs in registration order and campaigns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "Reminder jobs:")
			for _, name := range rt.router.Jobs() {
				fmt.Fprintln(w, "  "+name)
			}
			fmt.Fprintln(w, "Campaigns:")
			for _, name := range rt.router.Campaigns() {
				fmt.Fprintln(w, "  "+name)
			}
			return nil
		},
	}
}
