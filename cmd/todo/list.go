package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/todo"
)

var (
	listCompleted bool
	listPending   bool
	listPriority  string
	listSearch    string
	listLimit     int
	listOffset    int
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List todos, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService()
		if err != nil {
			return err
		}
		defer cleanup()

		filter := todo.Filter{
			Search: listSearch,
			Limit:  listLimit,
			Offset: listOffset,
		}
		if listCompleted && listPending {
			return fmt.Errorf("--completed and --pending are mutually exclusive")
		}
		if listCompleted {
			v := true
			filter.Completed = &v
		}
		if listPending {
			v := false
			filter.Completed = &v
		}
		if listPriority != "" {
			p := todo.Priority(listPriority)
			filter.Priority = &p
		}

		todos, total, err := svc.List(cmd.Context(), filter)
		if err != nil {
			return err
		}

		if len(todos) == 0 {
			fmt.Println(mutedStyle.Render("No todos found."))
			return nil
		}

		for _, t := range todos {
			fmt.Println(renderLine(t))
		}
		if total > len(todos) {
			fmt.Println(mutedStyle.Render(fmt.Sprintf("Showing %d of %d", len(todos), total)))
		}
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listCompleted, "completed", false, "Only completed todos")
	listCmd.Flags().BoolVar(&listPending, "pending", false, "Only pending todos")
	listCmd.Flags().StringVarP(&listPriority, "priority", "p", "", "Filter by priority: low, medium, or high")
	listCmd.Flags().StringVarP(&listSearch, "search", "s", "", "Search in title and description")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 0, "Maximum number of todos to show")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Number of todos to skip")

	rootCmd.AddCommand(listCmd)
}
