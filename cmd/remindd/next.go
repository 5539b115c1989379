package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"remindd/internal/trigger"
)

func newNextCmd() *cobra.Command {
	var (
		expr string
		n    int
		tz   string
		from string
	)
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Preview upcoming fire times of a trigger expression",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc := time.Local
			if tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return fmt.Errorf("timezone: %w", err)
				}
				loc = l
			}
			start := time.Now().In(loc)
			if from != "" {
				t, err := time.ParseInLocation(time.RFC3339, from, loc)
				if err != nil {
					return fmt.Errorf("from: %w", err)
				}
				start = t.In(loc)
			}
			tr, err := trigger.Parse(expr, loc)
			if err != nil {
				return err
			}
			if n <= 0 {
				return errors.New("-n must be positive")
			}
			ts := trigger.Preview(tr, start, n)
			if len(ts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no upcoming fire time")
				return nil
			}
			for _, t := range ts {
				fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339))
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&expr, "trigger", "t", "", "trigger expression")
	fl.IntVarP(&n, "count", "n", 5, "number of fire times")
	fl.StringVar(&tz, "tz", "", "IANA timezone; defaults to local")
	fl.StringVar(&from, "from", "", "RFC3339 start instant; defaults to now")
	_ = cmd.MarkFlagRequired("trigger")
	return cmd
}
