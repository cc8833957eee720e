package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/swastik-shetty-85/docpipe/pkg/client"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long: `Retrieve detailed status for a document job, including its current stage,
attempt counters, and the last error recorded by a failed attempt.

With --watch the command subscribes to the job's live event stream and
prints each stage transition until the job reaches a terminal stage.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			cmd.Printf("Invalid job ID: %v\n", err)
			return
		}

		c := apiClient()

		j, err := c.GetJob(cmd.Context(), id)
		if err != nil {
			cmd.Printf("Failed to get job: %v\n", err)
			return
		}
		printJob(cmd, j)

		if !statusWatch || j.Terminal() {
			return
		}

		events, err := c.WatchStatus(cmd.Context(), id)
		if err != nil {
			cmd.Printf("Failed to watch job: %v\n", err)
			return
		}

		cmd.Println("\nWatching for stage changes (Ctrl-C to stop)...")
		for ev := range events {
			line := fmt.Sprintf("%s  %s", ev.Timestamp.Format("15:04:05"), colorizeStage(ev.Stage))
			if ev.Error != "" {
				line += fmt.Sprintf("  %s%s%s", colorRed, ev.Error, colorReset)
			}
			cmd.Println(line)
			if ev.Terminal() {
				return
			}
		}
	},
}

func printJob(cmd *cobra.Command, j *client.Job) {
	icon := stageIcon(j.Stage)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sID:%s        %s\n", colorDim, colorReset, j.ID)
	cmd.Printf("%sOwner:%s     %s\n", colorDim, colorReset, j.Owner)
	cmd.Printf("%sStage:%s     %s\n", colorDim, colorReset, colorizeStage(j.Stage))
	cmd.Printf("%sExtract:%s   attempt %d\n", colorDim, colorReset, j.ExtractAttempts)
	cmd.Printf("%sRender:%s    attempt %d\n", colorDim, colorReset, j.RenderAttempts)
	if j.LastError != "" {
		cmd.Printf("%sError:%s     %s%s%s\n", colorDim, colorReset, colorRed, j.LastError, colorReset)
	}
	cmd.Printf("%sCreated:%s   %s %s(%s ago)%s\n", colorDim, colorReset,
		j.CreatedAt.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relativeTime(j.CreatedAt), colorReset)
	cmd.Printf("%sUpdated:%s   %s %s(%s ago)%s\n", colorDim, colorReset,
		j.UpdatedAt.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relativeTime(j.UpdatedAt), colorReset)
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func stageIcon(stage string) string {
	switch stage {
	case "complete":
		return colorGreen + "✓" + colorReset
	case "failed", "dead_lettered":
		return colorRed + "✗" + colorReset
	case "extracting", "generating":
		return colorYellow + "⏳" + colorReset
	case "uploaded", "queued", "extracted":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStage(stage string) string {
	icon := stageIcon(stage)
	switch stage {
	case "complete":
		return icon + " " + colorGreen + stage + colorReset
	case "failed", "dead_lettered", "cancelled":
		return icon + " " + colorRed + stage + colorReset
	case "extracting", "generating":
		return icon + " " + colorYellow + stage + colorReset
	default:
		return icon + " " + colorCyan + stage + colorReset
	}
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "follow the job's event stream until it finishes")
	rootCmd.AddCommand(statusCmd)
}
