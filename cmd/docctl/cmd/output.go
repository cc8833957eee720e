package cmd

import (
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var outputPath string

var outputCmd = &cobra.Command{
	Use:   "output [job_id]",
	Short: "Download the rendered output of a completed job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			cmd.Printf("Invalid job ID: %v\n", err)
			return
		}

		data, err := apiClient().Output(cmd.Context(), id)
		if err != nil {
			cmd.Printf("Download failed: %v\n", err)
			return
		}

		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			cmd.Printf("Failed to write %s: %v\n", outputPath, err)
			return
		}
		cmd.Printf("%s✓%s Wrote %d bytes to %s\n", colorGreen, colorReset, len(data), outputPath)
	},
}

func init() {
	outputCmd.Flags().StringVar(&outputPath, "out", "output.pdf", "path to write the rendered document")
	rootCmd.AddCommand(outputCmd)
}
