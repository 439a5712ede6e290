package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newMessagesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "messages <channel-id>",
		Short: "Print a channel's recent messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if err := a.start(ctx, opts.token); err != nil {
				return err
			}
			if err := a.ready(ctx); err != nil {
				return err
			}
			msgs, err := a.store.Messages(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i := len(msgs) - 1; i >= 0; i-- {
				m := msgs[i]
				author := a.store.Author(m)
				line := fmt.Sprintf("%s  %-16s %s", m.Timestamp.Local().Format(time.DateTime), author.Username, m.Content)
				if !m.EditedTimestamp.IsZero() {
					line += " (edited)"
				}
				for _, at := range m.Attachments {
					line += " [" + at.Filename + "]"
				}
				fmt.Fprintln(out, strings.TrimRight(line, " "))
			}
			return nil
		},
	}
}
