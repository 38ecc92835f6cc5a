package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/pairlink-go/pkg/httpclient"
)

func newSendCommand() *cobra.Command {
	var (
		payload  string
		file     string
		metadata []string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to the peer",
		Long: `Send a message through the node to its peer. The payload is given inline
with --payload or read from --file; metadata is repeated --meta key=value.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, payload, file, metadata)
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "Message payload")
	cmd.Flags().StringVar(&file, "file", "", "Read the payload from a file")
	cmd.Flags().StringArrayVar(&metadata, "meta", nil, "Metadata entry key=value (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("payload", "file")

	return cmd
}

func runSend(cmd *cobra.Command, payload, file string, metadata []string) error {
	md, err := parseMetadata(metadata)
	if err != nil {
		return err
	}

	req := httpclient.SendRequest{Metadata: md, Payload: payload}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read payload file: %w", err)
		}
		req.Payload = ""
		req.PayloadBase64 = base64.StdEncoding.EncodeToString(data)
	}

	if err := ensureAuthenticated(cmd); err != nil {
		return err
	}

	ctx, cancel := contextWithTimeout(cmd)
	defer cancel()

	resp, err := client.Send(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Message ID: %s\n", resp.MessageID)
	if !resp.Sent {
		return fmt.Errorf("message not sent: no link to the peer")
	}
	fmt.Fprintf(out, "Sent via %s\n", resp.Route)
	return nil
}
