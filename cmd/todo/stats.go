package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the todo list",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService()
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := svc.Stats(cmd.Context())
		if err != nil {
			return err
		}

		body := fmt.Sprintf(
			"Total:      %d\nCompleted:  %d\nPending:    %d\nDone rate:  %.2f%%\n\nHigh:       %d\nMedium:     %d\nLow:        %d",
			stats.Total, stats.Completed, stats.Pending, stats.CompletionRate,
			stats.ByPriority.High, stats.ByPriority.Medium, stats.ByPriority.Low,
		)

		box := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 2)
		fmt.Println(box.Render(titleStyle.Render("Todos") + "\n\n" + body))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
