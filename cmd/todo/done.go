package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a todo as completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService()
		if err != nil {
			return err
		}
		defer cleanup()

		t, err := svc.MarkCompleted(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(renderLine(t))
		return nil
	},
}

var undoneCmd = &cobra.Command{
	Use:   "undone <id>",
	Short: "Mark a completed todo as pending again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService()
		if err != nil {
			return err
		}
		defer cleanup()

		t, err := svc.MarkIncomplete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(renderLine(t))
		return nil
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Flip a todo between completed and pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService()
		if err != nil {
			return err
		}
		defer cleanup()

		t, err := svc.Toggle(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(renderLine(t))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(undoneCmd)
	rootCmd.AddCommand(toggleCmd)
}
