package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"remindd/internal/app"
	"remindd/internal/entry"
	logx "remindd/pkg/logx"
)

func newEntriesCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Inspect persisted entries while the daemon is stopped",
	}

	var owner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List persisted entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			off, err := app.OpenOffline(f.config, logx.Nop())
			if err != nil {
				return err
			}
			defer off.Close()
			es, err := off.List(cmd.Context(), owner)
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), es)
			return nil
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "only entries of this owner")

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete terminal and stale snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			off, err := app.OpenOffline(f.config, logx.Nop())
			if err != nil {
				return err
			}
			defer off.Close()
			n, err := off.Purge(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d\n", n)
			return nil
		},
	}

	rm := &cobra.Command{
		Use:   "rm ID...",
		Short: "Delete persisted entries by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, err := app.OpenOffline(f.config, logx.Nop())
			if err != nil {
				return err
			}
			defer off.Close()
			for _, id := range args {
				if err := off.Remove(cmd.Context(), id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}
			return nil
		},
	}

	cmd.AddCommand(list, purge, rm)
	return cmd
}

func printEntries(w io.Writer, es []entry.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tOWNER\tSTATUS\tPRIORITY\tTRIGGER\tNEXT RUN")
	for _, e := range es {
		next := "-"
		if e.NextRunAt != nil {
			next = e.NextRunAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Name, e.Owner, e.Status, e.Priority, strings.TrimSpace(e.Trigger), next)
	}
	_ = tw.Flush()
}
