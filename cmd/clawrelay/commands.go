package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/topanga/clawrelay/internal/config"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message through the running relay",
	Long: `Send a message through the running relay and print the reply.

Examples:
  clawrelay chat "what's on my calendar?"
  clawrelay chat --stream --session s-42 "summarize today"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stream, _ := cmd.Flags().GetBool("stream")
		session, _ := cmd.Flags().GetString("session")

		message := strings.TrimSpace(strings.Join(args, " "))
		if message == "" {
			return fmt.Errorf("message is required")
		}

		req := map[string]string{"message": message}
		if session != "" {
			req["session_id"] = session
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if stream {
			body, err := client.stream(ctx, "/chat/stream", req)
			if err != nil {
				return err
			}
			defer body.Close()
			return printStream(body, os.Stdout)
		}

		resp, err := client.post(ctx, "/chat", req)
		if err != nil {
			return err
		}
		var result struct {
			Reply string `json:"reply"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Println(result.Reply)
		return nil
	},
}

func init() {
	chatCmd.Flags().Bool("stream", false, "stream the reply as it is generated")
	chatCmd.Flags().String("session", "", "session identifier passed upstream as the user")
}

// streamError is an in-band {"error": ...} frame from the relay.
type streamError struct {
	Message string
}

func (e *streamError) Error() string {
	return "stream error: " + e.Message
}

// printStream reads relay SSE frames from r and writes the text deltas to w.
// Frames that are not completion chunks are ignored. It returns a
// *streamError when the relay reports one in-band.
func printStream(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	wrote := false
	defer func() {
		if wrote {
			fmt.Fprintln(w)
		}
	}()

	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var frame struct {
			Error   *string `json:"error"`
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			continue
		}
		if frame.Error != nil {
			return &streamError{Message: *frame.Error}
		}
		for _, c := range frame.Choices {
			if c.Delta.Content != "" {
				fmt.Fprint(w, c.Delta.Content)
				wrote = true
			}
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// --- history ---

type historyMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
	SessionID string `json:"session_id"`
}

type historyResult struct {
	SessionID string           `json:"session_id"`
	Count     int              `json:"count"`
	Messages  []historyMessage `json:"messages"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a session transcript",
	Long: `Show a session transcript from the gateway, or from the local store
with --saved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		limit, _ := cmd.Flags().GetInt("limit")
		saved, _ := cmd.Flags().GetBool("saved")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/chat/history"
		if saved {
			path = "/chat/saved"
		}
		resp, err := client.get(cmd.Context(), path+"?"+historyQuery(session, limit))
		if err != nil {
			return err
		}

		var result historyResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			return printJSON(result)
		}
		if result.Count == 0 {
			printWarning("No messages for session %s", result.SessionID)
			return nil
		}
		for _, m := range result.Messages {
			printMessage(m)
		}
		return nil
	},
}

func historyQuery(session string, limit int) string {
	q := url.Values{}
	if session != "" {
		q.Set("session_id", session)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	return q.Encode()
}

func init() {
	historyCmd.Flags().String("session", "", "session identifier (default: configured session key)")
	historyCmd.Flags().Int("limit", 20, "maximum number of messages")
	historyCmd.Flags().Bool("saved", false, "read the local transcript store instead of the gateway")
	historyCmd.Flags().Bool("json", false, "print the raw JSON response")
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy gateway history missing from the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/chat/sync"
		if session != "" {
			path += "?session_id=" + url.QueryEscape(session)
		}
		resp, err := client.post(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var result struct {
			Synced       int `json:"synced"`
			GatewayCount int `json:"gateway_count"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Synced %d of %d gateway messages", result.Synced, result.GatewayCount)
		return nil
	},
}

func init() {
	syncCmd.Flags().String("session", "", "session identifier (default: configured session key)")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Secrets (gateway.token, gateway.cf_access_client_secret) are read from the
environment only and cannot be set here.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
