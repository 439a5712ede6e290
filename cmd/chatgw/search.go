package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/chatgw/internal/search"
)

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Fuzzy-find text channels and DMs",
		Args:  cobra.MinimumNArgs(1),
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

			s := search.New(a.store, limit)
			for _, r := range s.Search(strings.Join(args, " ")) {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", r.Channel.ID, r.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", search.DefaultLimit, "maximum number of results")
	return cmd
}
