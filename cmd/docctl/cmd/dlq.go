package cmd

import (
	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List dead-lettered jobs",
	Long: `List jobs parked in the dead-letter stage. A job lands there when its
extraction attempts were exhausted, its document or spec was rejected as
unprocessable, or its queue message exceeded the delivery ceiling.`,
	Run: func(cmd *cobra.Command, args []string) {
		jobs, err := apiClient().DeadLettered(cmd.Context())
		if err != nil {
			cmd.Printf("Failed to list dead-lettered jobs: %v\n", err)
			return
		}

		if len(jobs) == 0 {
			cmd.Println("Dead-letter queue is empty.")
			return
		}

		cmd.Printf("%s%-36s  %-12s  %s%s\n", colorBold, "ID", "OWNER", "LAST ERROR", colorReset)
		for _, j := range jobs {
			errMsg := j.LastError
			if len(errMsg) > 60 {
				errMsg = errMsg[:57] + "..."
			}
			cmd.Printf("%-36s  %-12s  %s%s%s\n", j.ID, j.Owner, colorRed, errMsg, colorReset)
		}
		cmd.Printf("\n%d job(s)\n", len(jobs))
	},
}

func init() {
	rootCmd.AddCommand(dlqCmd)
}
