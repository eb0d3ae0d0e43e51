package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lightstreamer/ls-go-client/cmd/ls-client/interactive"
	"github.com/lightstreamer/ls-go-client/pkg/message"
)

func newSendCmd(opts *options) *cobra.Command {
	var sequence string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send [flags] <text>",
		Short: "Send a message and wait for its outcome",
		Args:  cobra.ExactArgs(1),
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

			outcome := interactive.NewOutcome()
			if err := s.client.SendMessage(message.Request{
				Text:                     args[0],
				Sequence:                 sequence,
				DelayTimeout:             -1,
				Listener:                 outcome,
				EnqueueWhileDisconnected: true,
			}); err != nil {
				return err
			}
			if err := s.client.Connect(); err != nil {
				return err
			}

			select {
			case res := <-outcome.Done():
				fmt.Fprintln(cmd.OutOrStdout(), res)
				if !res.OK() {
					return errors.New("message not processed")
				}
				return nil
			case <-time.After(timeout):
				return fmt.Errorf("no outcome after %s", timeout)
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		},
	}
	cmd.Flags().StringVar(&sequence, "sequence", message.UnorderedSequence, "Message sequence name")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the outcome")
	return cmd
}
