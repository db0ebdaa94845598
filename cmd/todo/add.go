package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/todosync/todosync/internal/todo"
)

var (
	addDescription string
	addPriority    string
	addInteractive bool
)

var addCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a new todo",
	Long: `Add a new todo to the list.

With a title argument the todo is created directly:
  todo add "Buy milk" --priority high --description "2% or whole"

With --interactive (or no title at all) an interactive form opens instead.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService()
		if err != nil {
			return err
		}
		defer cleanup()

		input := todo.CreateInput{
			Title:       strings.Join(args, " "),
			Description: addDescription,
			Priority:    todo.Priority(addPriority),
		}

		if addInteractive || len(args) == 0 {
			if err := promptCreate(&input); err != nil {
				return err
			}
		}

		created, err := svc.Create(cmd.Context(), input)
		if err != nil {
			return err
		}

		fmt.Printf("Added %s\n", created.ID)
		fmt.Println(renderLine(created))
		return nil
	},
}

// promptCreate fills input through an interactive form, pre-seeding any
// values already supplied through flags.
func promptCreate(input *todo.CreateInput) error {
	priority := string(input.Priority)
	if priority == "" {
		priority = string(todo.PriorityMedium)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(&input.Title),
			huh.NewText().
				Title("Description").
				Lines(3).
				Value(&input.Description),
			huh.NewSelect[string]().
				Title("Priority").
				Options(
					huh.NewOption("Low", string(todo.PriorityLow)),
					huh.NewOption("Medium", string(todo.PriorityMedium)),
					huh.NewOption("High", string(todo.PriorityHigh)),
				).
				Value(&priority),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("form cancelled: %w", err)
	}
	input.Priority = todo.Priority(priority)
	return nil
}

func init() {
	addCmd.Flags().StringVarP(&addDescription, "description", "d", "", "Longer description")
	addCmd.Flags().StringVarP(&addPriority, "priority", "p", "medium", "Priority: low, medium, or high")
	addCmd.Flags().BoolVarP(&addInteractive, "interactive", "i", false, "Open an interactive form")

	rootCmd.AddCommand(addCmd)
}
