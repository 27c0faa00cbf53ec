package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var operationsCmd = &cobra.Command{
	Use:     "operations",
	Aliases: []string{"ops"},
	Short:   "List the operation table and timed sequences",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for i, op := range cfg.Operations {
			open := "all closed"
			if len(op.Open) > 0 {
				open = strings.Join(op.Open, " ")
			}
			fmt.Fprintf(out, "%2d  %-34s %s\n", i+1, op.Name, open)
		}
		for _, seq := range cfg.Sequences {
			fmt.Fprintf(out, "\nsequence %q\n", seq.Trigger)
			for _, st := range seq.Steps {
				fmt.Fprintf(out, "    +%-8s %s\n", st.After, st.Apply)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(operationsCmd)
}
