package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type chatRequestBody struct {
	SessionKey     string `json:"session_key"`
	Text           string `json:"text"`
	Model          string `json:"model,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	Agent          string `json:"agent,omitempty"`
}

type chatResponseBody struct {
	SessionKey string `json:"session_key"`
	SessionID  string `json:"session_id"`
	RunID      string `json:"run_id"`
	Text       string `json:"text"`
	Stopped    bool   `json:"stopped,omitempty"`
	Error      string `json:"error,omitempty"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
		TotalTokens  int64 `json:"total_tokens"`
	} `json:"usage"`
}

// buildChatCmd creates the "chat" command, a one-shot client for /v1/chat.
func buildChatCmd() *cobra.Command {
	var (
		addr       string
		token      string
		sessionKey string
		model      string
		agent      string
	)

	cmd := &cobra.Command{
		Use:   "chat [text]",
		Short: "Send a one-shot chat turn to a running gateway",
		Long: `Send a one-shot chat turn to a running relaygate gateway over /v1/chat.

If text is omitted, it is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := resolveChatText(args)
			if err != nil {
				return err
			}
			if sessionKey == "" {
				return fmt.Errorf("--session is required")
			}

			client := newAPIClient(addr, resolveToken(token))
			var resp chatResponseBody
			req := chatRequestBody{SessionKey: sessionKey, Text: text, Model: model, Agent: agent}
			if err := client.post(cmd.Context(), "/v1/chat", req, &resp); err != nil {
				return err
			}
			if resp.Error != "" {
				return fmt.Errorf("gateway: %s", resp.Error)
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
			if resp.Stopped {
				fmt.Fprintln(cmd.ErrOrStderr(), "(turn stopped before completion)")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "Gateway base URL")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token (default $SA_API_TOKEN)")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "Session key to send the turn on")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Override the model for this turn")
	cmd.Flags().StringVar(&agent, "agent", "", "Agent id for quota accounting")
	return cmd
}

func resolveChatText(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := readAllStdin()
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimSpace(data)
	if text == "" {
		return "", fmt.Errorf("no text provided: pass it as an argument or pipe it on stdin")
	}
	return text, nil
}

func readAllStdin() (string, error) {
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return sb.String(), nil
}

func resolveToken(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("SA_API_TOKEN")
}
