package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"inkbridge/internal/attachment"
	"inkbridge/internal/config"
	"inkbridge/internal/store"
)

func newJournalCmd(app *App) *cobra.Command {
	var (
		sessionID    string
		attachmentID string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show editing sessions and attachment lifecycle history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(app.ConfigPath)
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return errors.New("journal is disabled in the configuration")
			}
			st, err := store.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch {
			case attachmentID != "":
				ts, err := st.TransitionsForAttachment(ctx, attachmentID)
				if err != nil {
					return err
				}
				return printTransitions(out, ts)
			case sessionID != "":
				sess, err := st.GetSession(ctx, sessionID)
				if err != nil {
					return err
				}
				printSessions(out, []store.Session{*sess})
				fmt.Fprintln(out)
				ts, err := st.TransitionsForSession(ctx, sessionID)
				if err != nil {
					return err
				}
				return printTransitions(out, ts)
			default:
				sessions, err := st.ListSessions(ctx, limit)
				if err != nil {
					return err
				}
				printSessions(out, sessions)
				counts, err := st.CountByState(ctx)
				if err != nil {
					return err
				}
				if len(counts) > 0 {
					fmt.Fprintln(out)
					for _, state := range []attachment.State{
						attachment.StatePending, attachment.StateUploading, attachment.StateSucceeded,
						attachment.StateFailed, attachment.StateRemoved,
					} {
						if n, ok := counts[state.String()]; ok {
							fmt.Fprintf(out, "%-10s %d\n", state, n)
						}
					}
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "show transitions for one editing session")
	cmd.Flags().StringVar(&attachmentID, "attachment", "", "show transitions for one attachment")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent sessions to list")
	return cmd
}

func printSessions(w io.Writer, sessions []store.Session) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tTITLE\tSTARTED\tENDED\tOUTCOME")
	for _, s := range sessions {
		ended, outcome := "-", "-"
		if s.EndedAt != nil {
			ended = s.EndedAt.Format(time.DateTime)
			outcome = s.Outcome
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Title, s.StartedAt.Format(time.DateTime), ended, outcome)
	}
	tw.Flush()
}

func printTransitions(w io.Writer, ts []store.Transition) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tATTACHMENT\tKIND\tFROM\tTO\tSOURCE")
	for _, t := range ts {
		from := t.From
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.At.Format("15:04:05.000"), t.AttachmentID, t.Kind, from, t.To, t.SourceRef)
	}
	return tw.Flush()
}
