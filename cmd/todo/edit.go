package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/todo"
)

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Update fields of a todo",
	Long: `Update a todo. Only the flags you pass change; everything else
keeps its current value.

  todo edit 3f2a... --title "Buy oat milk" --priority low`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService()
		if err != nil {
			return err
		}
		defer cleanup()

		input := todo.UpdateInput{ID: args[0]}
		if cmd.Flags().Changed("title") {
			v, _ := cmd.Flags().GetString("title")
			input.Title = &v
		}
		if cmd.Flags().Changed("description") {
			v, _ := cmd.Flags().GetString("description")
			input.Description = &v
		}
		if cmd.Flags().Changed("priority") {
			v, _ := cmd.Flags().GetString("priority")
			p := todo.Priority(v)
			input.Priority = &p
		}

		updated, err := svc.Update(cmd.Context(), input)
		if err != nil {
			return err
		}
		fmt.Println(renderLine(updated))
		return nil
	},
}

func init() {
	editCmd.Flags().StringP("title", "t", "", "New title")
	editCmd.Flags().StringP("description", "d", "", "New description (empty string clears it)")
	editCmd.Flags().StringP("priority", "p", "", "New priority: low, medium, or high")

	rootCmd.AddCommand(editCmd)
}
