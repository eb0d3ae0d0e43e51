package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lightstreamer/ls-go-client/cmd/ls-client/interactive"
	"github.com/lightstreamer/ls-go-client/internal/config"
)

func newStreamCmd(opts *options) *cobra.Command {
	var sub config.Subscription
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Connect, subscribe and print updates until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if len(sub.Items) > 0 || sub.Group != "" {
				cfg.Subscriptions = append(cfg.Subscriptions, sub)
			}
			if len(cfg.Subscriptions) == 0 {
				return fmt.Errorf("nothing to subscribe: use --items or a configuration file")
			}

			s, err := open(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.close()

			p := interactive.NewPrinter(cmd.OutOrStdout(), !opts.noColor)
			s.client.AddListener(p)
			for i, sc := range cfg.Subscriptions {
				built, err := sc.Build()
				if err != nil {
					return fmt.Errorf("subscription %d: %w", i, err)
				}
				built.AddListener(p.Subscription(i + 1))
				if err := s.client.Subscribe(built); err != nil {
					return err
				}
			}
			if err := s.client.Connect(); err != nil {
				return err
			}

			<-cmd.Context().Done()
			s.client.Disconnect()
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&sub.Mode, "mode", "m", "MERGE", "Subscription mode (MERGE, DISTINCT, COMMAND, RAW)")
	f.StringSliceVarP(&sub.Items, "items", "i", nil, "Comma-separated item names")
	f.StringVar(&sub.Group, "group", "", "Item group name")
	f.StringSliceVarP(&sub.Fields, "fields", "f", nil, "Comma-separated field names")
	f.StringVar(&sub.Schema, "schema", "", "Field schema name")
	f.StringVar(&sub.DataAdapter, "data-adapter", "", "Data adapter name")
	f.StringVar(&sub.Snapshot, "snapshot", "", "Requested snapshot (yes, no, or a length)")
	f.StringVar(&sub.MaxFrequency, "max-frequency", "", "Requested max frequency (unlimited or updates/s)")
	return cmd
}
