package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/swastik-shetty-85/docpipe/pkg/client"
)

var (
	submitOwner    string
	submitDocument string
	submitSpec     string
	submitTemplate string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a document for processing",
	Long: `Upload a source document together with an extraction spec (a JSON Schema
describing the fields to pull out) and a render template. The server creates
a job, queues it for extraction, and returns the job ID.`,
	Run: func(cmd *cobra.Command, args []string) {
		document, err := os.ReadFile(submitDocument)
		if err != nil {
			cmd.Printf("Failed to read document: %v\n", err)
			return
		}
		spec, err := os.ReadFile(submitSpec)
		if err != nil {
			cmd.Printf("Failed to read spec: %v\n", err)
			return
		}
		template, err := os.ReadFile(submitTemplate)
		if err != nil {
			cmd.Printf("Failed to read template: %v\n", err)
			return
		}

		j, err := apiClient().Submit(cmd.Context(), client.Submission{
			Owner:    submitOwner,
			Document: document,
			Spec:     spec,
			Template: template,
		})
		if err != nil {
			cmd.Printf("Submit failed: %v\n", err)
			return
		}

		cmd.Printf("%s✓%s Job created\n", colorGreen, colorReset)
		cmd.Printf("%sID:%s     %s\n", colorDim, colorReset, j.ID)
		cmd.Printf("%sStage:%s  %s\n", colorDim, colorReset, colorizeStage(j.Stage))
		cmd.Printf("\nFollow it with:\n  docctl status %s --watch\n", j.ID)
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitOwner, "owner", "", "owner of the job (required)")
	submitCmd.Flags().StringVar(&submitDocument, "document", "", "path to the source document (required)")
	submitCmd.Flags().StringVar(&submitSpec, "spec", "", "path to the extraction spec JSON Schema (required)")
	submitCmd.Flags().StringVar(&submitTemplate, "template", "", "path to the render template (required)")
	submitCmd.MarkFlagRequired("owner")
	submitCmd.MarkFlagRequired("document")
	submitCmd.MarkFlagRequired("spec")
	submitCmd.MarkFlagRequired("template")

	rootCmd.AddCommand(submitCmd)
}
