package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one todo in full",
	Args:  cobra.ExactArgs(1),
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
		fmt.Println(renderDetail(t))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
