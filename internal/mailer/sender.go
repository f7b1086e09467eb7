package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/utafrali/promptbase/pkg/logger"
)

// Poster is satisfied by httpclient.Client and httpclient.CircuitBreakerClient.
type Poster interface {
	Post(ctx context.Context, url, contentType string, body []byte) (*http.Response, error)
}

// HTTPSender posts messages as JSON to a mail relay.
type HTTPSender struct {
	client Poster
	url    string
}

// NewHTTPSender creates a sender for the relay endpoint at url.
func NewHTTPSender(client Poster, url string) *HTTPSender {
	return &HTTPSender{client: client, url: url}
}

// Deliver sends msg to the relay. Any non-2xx answer is an error.
func (s *HTTPSender) Deliver(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	resp, err := s.client.Post(ctx, s.url, "application/json", body)
	if err != nil {
		return fmt.Errorf("post to mail relay: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mail relay returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them. It is used
// when no relay is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(l *slog.Logger) *LogSender {
	return &LogSender{logger: l}
}

// Deliver logs the message text.
func (s *LogSender) Deliver(ctx context.Context, msg Message) error {
	logger.WithContext(ctx, s.logger).InfoContext(ctx, "email not sent, no relay configured",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("text", msg.Text),
	)
	return nil
}
