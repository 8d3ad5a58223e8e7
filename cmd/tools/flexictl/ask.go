package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type askOptions struct {
	url      string
	token    string
	question string
	timeout  time.Duration
}

func newAskCmd() *cobra.Command {
	opts := askOptions{}

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Post one question to /api/chat and print the reply.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := ask(cmd.Context(), http.DefaultClient, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", envOrDefault("API_URL", "http://localhost:8080/api/chat"), "chat endpoint URL")
	cmd.Flags().StringVar(&opts.token, "token", envOrDefault("TEST_TOKEN", ""), "value sent as X-TEST-TOKEN")
	cmd.Flags().StringVarP(&opts.question, "question", "q", envOrDefault("QUESTION", "Ciao"), "question to ask")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 90*time.Second, "request timeout")
	return cmd
}

// ask posts the question and returns the status line and the indented body.
func ask(ctx context.Context, client *http.Client, opts askOptions) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	body, err := json.Marshal(map[string]string{"question": opts.question})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.token != "" {
		req.Header.Set("X-TEST-TOKEN", opts.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(raw)
	}

	out := fmt.Sprintf("%s\n%s", resp.Status, pretty.String())
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("unexpected response: %s", out)
	}
	return out, nil
}
