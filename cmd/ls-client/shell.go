package main

import (
	"github.com/spf13/cobra"

	"github.com/lightstreamer/ls-go-client/cmd/ls-client/interactive"
)

func newShellCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			s, err := open(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.close()

			sh, err := interactive.New(s.client, !opts.noColor)
			if err != nil {
				return err
			}
			for _, sc := range cfg.Subscriptions {
				if err := sh.Subscribe(sc); err != nil {
					return err
				}
			}
			sh.Run(cmd.Context())
			return nil
		},
	}
}
