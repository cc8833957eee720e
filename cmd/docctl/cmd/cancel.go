package cmd

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/swastik-shetty-85/docpipe/pkg/client"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [job_id]",
	Short: "Cancel a job",
	Long: `Request cancellation of a job. A job that already reached a terminal
stage is left unchanged; an in-flight attempt may still finish its current
stage before the cancellation is observed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			cmd.Printf("Invalid job ID: %v\n", err)
			return
		}

		j, err := apiClient().Cancel(cmd.Context(), id)
		if err != nil {
			cmd.Printf("Cancel failed: %v\n", err)
			return
		}

		if j.Stage == client.StageCancelled {
			cmd.Printf("%s✓%s Job cancelled\n", colorGreen, colorReset)
		} else {
			cmd.Printf("Job already %s, nothing to cancel\n", colorizeStage(j.Stage))
		}
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
