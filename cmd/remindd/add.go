package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"remindd/internal/app"
	"remindd/internal/entry"
	"remindd/internal/scheduler"
	logx "remindd/pkg/logx"
)

func newAddCmd(f *rootFlags) *cobra.Command {
	var (
		req      scheduler.Request
		priority string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Validate and persist a new entry; the daemon arms it on next start",
		Example: `  remindd add --name "stand-up" --trigger "0 10 * * 1-5" --priority high
  remindd add --name "call mom" --trigger "at:2025-06-01T18:00"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			off, err := app.OpenOffline(f.config, logx.Nop())
			if err != nil {
				return err
			}
			defer off.Close()
			req.Priority = entry.Priority(priority)
			e, err := off.Add(cmd.Context(), req)
			if err != nil {
				return err
			}
			next := "-"
			if e.NextRunAt != nil {
				next = e.NextRunAt.Format(time.RFC3339)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tnext %s\n", e.ID, next)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&req.Name, "name", "", "entry name")
	fl.StringVar(&req.Description, "description", "", "free-form description")
	fl.StringVar(&req.Trigger, "trigger", "", `cron pattern, "@daily" style descriptor, or "at:<time>"`)
	fl.StringVar(&req.Owner, "owner", "", "owner; defaults to recovery.owner")
	fl.StringVar(&priority, "priority", "", "urgent|high|normal|low")
	fl.StringVar(&req.SourceModule, "source-module", "", "originating feature module")
	fl.StringVar(&req.SourceEntityID, "source-id", "", "id of the originating record")
	fl.StringToStringVar(&req.Metadata, "meta", nil, "metadata key=value pairs")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("trigger")
	return cmd
}
