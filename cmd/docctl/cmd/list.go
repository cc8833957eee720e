package cmd

import (
	"github.com/spf13/cobra"

	"github.com/swastik-shetty-85/docpipe/pkg/client"
)

var listStage string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in a given stage",
	Run: func(cmd *cobra.Command, args []string) {
		jobs, err := apiClient().ListJobs(cmd.Context(), listStage)
		if err != nil {
			cmd.Printf("Failed to list jobs: %v\n", err)
			return
		}
		printJobTable(cmd, jobs)
	},
}

func printJobTable(cmd *cobra.Command, jobs []*client.Job) {
	if len(jobs) == 0 {
		cmd.Println("No jobs found.")
		return
	}

	cmd.Printf("%s%-36s  %-16s  %-12s  %s%s\n", colorBold, "ID", "STAGE", "OWNER", "UPDATED", colorReset)
	for _, j := range jobs {
		cmd.Printf("%-36s  %-16s  %-12s  %s ago\n", j.ID, j.Stage, j.Owner, relativeTime(j.UpdatedAt))
	}
	cmd.Printf("\n%d job(s)\n", len(jobs))
}

func init() {
	listCmd.Flags().StringVar(&listStage, "stage", "queued", "stage to filter by")
	rootCmd.AddCommand(listCmd)
}
