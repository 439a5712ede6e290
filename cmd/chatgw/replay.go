package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/chatgw/internal/gateway"
	"github.com/Rajchodisetti/chatgw/internal/journal"
	"github.com/Rajchodisetti/chatgw/internal/state"
)

func newReplayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <journal>",
		Short: "Fold a recorded journal offline and summarize the resulting graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			// no sender or fetcher: nothing leaves the process
			store := state.New(nil, nil, state.Options{MessageLimit: cfg.State.MessageLimit})
			folded := 0
			skipped, err := journal.Read(args[0], func(d gateway.Dispatch) error {
				store.Fold(d)
				folded++
				return nil
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			self := store.Self()
			fmt.Fprintf(out, "dispatches %d, skipped %d, version %d\n", folded, skipped, store.Version())
			fmt.Fprintf(out, "self %s (%s)\n", self.Username, self.ID)
			for _, g := range store.Guilds() {
				fmt.Fprintf(out, "guild %-20s %s\n", g.ID, g.Name)
				for _, ch := range store.GuildChannels(g.ID) {
					fmt.Fprintf(out, "  #%-18s %s\n", ch.Name, ch.ID)
					for _, th := range store.Threads(ch.ID) {
						fmt.Fprintf(out, "    > %-16s %s\n", th.Name, th.ID)
					}
				}
			}
			for _, ch := range store.PrivateChannels() {
				var names []string
				for _, u := range store.Recipients(ch.ID) {
					names = append(names, u.Username)
				}
				fmt.Fprintf(out, "dm %-23s %v\n", ch.ID, names)
			}
			return nil
		},
	}
}
