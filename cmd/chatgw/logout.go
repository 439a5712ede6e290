package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/chatgw/internal/observ"
	"github.com/Rajchodisetti/chatgw/internal/persist"
)

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			tokens, err := persist.Open(cfg.Persist.Path)
			if err != nil {
				return err
			}
			if err := tokens.Delete(cfg.Persist.TokenKey()); err != nil {
				return fmt.Errorf("delete token: %w", err)
			}
			observ.Log("logged_out", map[string]any{"path": cfg.Persist.Path})
			return nil
		},
	}
}
