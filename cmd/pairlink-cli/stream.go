package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/pairlink-go/pkg/httpclient"
)

func newStreamCommand() *cobra.Command {
	var (
		count   int
		asJSON  bool
		bufSize int
	)

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream messages received from the peer",
		Long:  "Print messages as the node receives them from its peer until interrupted or --count messages arrive.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, count, asJSON, bufSize)
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many messages (0 = run until interrupted)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print each message as a JSON line")
	cmd.Flags().IntVar(&bufSize, "buffer", 100, "Message buffer size")

	return cmd
}

func runStream(cmd *cobra.Command, count int, asJSON bool, bufSize int) error {
	if err := ensureAuthenticated(cmd); err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := client.Stream(ctx, httpclient.StreamConfig{BufferSize: bufSize})
	if err != nil {
		return err
	}
	defer stream.Close()

	errOut := cmd.ErrOrStderr()
	errs := stream.Errors()
	received := 0
	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(errOut, "stream: %v\n", err)

		case msg, ok := <-stream.Messages():
			if !ok {
				return nil
			}
			if err := printMessage(cmd, msg, asJSON); err != nil {
				return err
			}
			received++
			if count > 0 && received >= count {
				return nil
			}
		}
	}
}

func printMessage(cmd *cobra.Command, msg httpclient.MessageStreamEvent, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		return json.NewEncoder(out).Encode(msg)
	}

	payload := msg.Payload
	if msg.PayloadBase64 != "" {
		payload = "base64:" + msg.PayloadBase64
	}
	fmt.Fprintf(out, "[%s] %s (%d bytes) %v: %s\n",
		msg.ReceivedAt.Format("15:04:05.000"), msg.MessageID, msg.ContentLength, msg.Metadata, payload)
	return nil
}
