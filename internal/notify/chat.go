package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"trackmirror.app/syncd/common/logger"
)

// ChatSender posts messages to an incoming-webhook style chat endpoint.
type ChatSender struct {
	webhookURL string
	httpClient *http.Client
}

func NewChatSender(webhookURL string) *ChatSender {
	return &ChatSender{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *ChatSender) Send(ctx context.Context, msg Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "syncd.notify.chat",
	})

	if s.webhookURL == "" {
		slog.WarnContext(ctx, "chat webhook not configured, dropping notification", "subject", msg.Subject)
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"text": msg.Subject + "\n" + msg.Text,
	})
	if err != nil {
		return fmt.Errorf("marshaling chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to chat webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook returned %d", resp.StatusCode)
	}

	slog.InfoContext(ctx, "alert chat message sent", "subject", msg.Subject)
	return nil
}
