package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ridgeline-systems/zvault/internal/store"
)

// chatRequest is the body posted to the configured chat bot API. The shape
// follows the Telegram Bot sendMessage contract (chat_id/text/parse_mode),
// the only chat platform the original implementation targeted; ChatAPIBaseURL
// is kept configurable rather than hard-coded so another bot API with the
// same shape can be pointed at instead.
type chatRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type chatResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// chatSender delivers notifications via a bare HTTPS POST to a bot API,
// following the original's own choice of a plain HTTP client over an SDK.
type chatSender struct {
	client *http.Client
	loader func(ctx context.Context) (*store.NotificationConfig, error)
}

func newChatSender(loader func(ctx context.Context) (*store.NotificationConfig, error)) *chatSender {
	return &chatSender{
		client: &http.Client{Timeout: 15 * time.Second},
		loader: loader,
	}
}

func (s *chatSender) Send(ctx context.Context, message string) error {
	cfg, err := s.loader(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to load notification config: %s", ErrSendFailed, err)
	}
	if !cfg.ChatEnabled {
		return nil
	}
	if cfg.ChatAPIBaseURL == "" || cfg.ChatChatID == "" {
		return fmt.Errorf("%w: chat api base url and chat id are required", ErrInvalidConfig)
	}

	body, err := json.Marshal(chatRequest{
		ChatID:    cfg.ChatChatID,
		Text:      message,
		ParseMode: "Markdown",
	})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal chat payload: %s", ErrSendFailed, err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", cfg.ChatAPIBaseURL, string(cfg.ChatToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to build chat request: %s", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: chat request failed: %s", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("%w: malformed chat response: %s", ErrSendFailed, err)
	}
	if !parsed.OK {
		return fmt.Errorf("%w: chat api error: %s", ErrSendFailed, parsed.Description)
	}
	return nil
}
