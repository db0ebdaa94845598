package main

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a todo",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService()
		if err != nil {
			return err
		}
		defer cleanup()

		t, err := svc.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if !deleteForce {
			confirmed := false
			prompt := huh.NewConfirm().
				Title(fmt.Sprintf("Delete %q?", t.Title)).
				Value(&confirmed)
			if err := prompt.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		if err := svc.Delete(cmd.Context(), t.ID); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", t.ID)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all completed todos",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService()
		if err != nil {
			return err
		}
		defer cleanup()

		n, err := svc.ClearCompleted(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Cleared %d completed todo(s)\n", n)
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(clearCmd)
}
