package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored face detections",
	Long: `List the face detection history kept by the service, newest first as the
service returns it. The ID column is what "contacts link" expects.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Bool("json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	a, err := newApp()
	if err != nil {
		return err
	}
	ctx, cancel := a.commandContext(1)
	defer cancel()

	entries, err := a.client.History(ctx)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	if jsonOutput {
		return outputJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No faces detected yet")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		when := e.Timestamp
		if t := e.Time(); !t.IsZero() {
			when = t.Local().Format("2006-01-02 15:04:05")
		}
		matched := "no"
		if e.HasSearchResults() {
			matched = "yes"
		}
		rows = append(rows, []string{strconv.Itoa(e.ID), when, formatLocation(e.FaceLocation), matched})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Detected", "Location (top, right, bottom, left)", "Search results"},
		rows,
		[]columnAlignment{alignRight},
	))
	fmt.Printf("\n%d entries\n", len(entries))
	return nil
}
