package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const notificationDedupTTL = 10 * time.Minute

// WebhookNotifier posts response notifications to an HTTP endpoint. When a cache is supplied,
// a notification for the same action is delivered at most once per dedup window.
type WebhookNotifier struct {
	endpoint   string
	httpClient *http.Client
	cache      cache.Provider
	logger     *slog.Logger
}

// NewWebhookNotifier constructs a notifier targeting endpoint.
func NewWebhookNotifier(endpoint string, timeout time.Duration, provider cache.Provider, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &WebhookNotifier{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: &http.Client{Timeout: timeout},
		cache:      provider,
		logger:     logger,
	}
}

// Notify delivers n as a JSON document.
func (w *WebhookNotifier) Notify(ctx context.Context, n models.Notification) error {
	if w == nil {
		return errors.New("webhook notifier not initialised")
	}
	if w.endpoint == "" {
		return errors.New("webhook URL not configured")
	}

	key := "notify:" + n.ActionID
	if n.ActionID != "" {
		fresh, err := w.cache.SetNX(ctx, key, []byte(n.Action), notificationDedupTTL)
		if err != nil {
			w.logger.Warn("notification dedup unavailable", slog.Any("error", err))
		} else if !fresh {
			w.logger.Debug("duplicate notification suppressed", slog.String("action_id", n.ActionID))
			return nil
		}
	}

	if err := w.postJSON(ctx, n); err != nil {
		if n.ActionID != "" {
			_ = w.cache.Del(ctx, key)
		}
		return fmt.Errorf("webhook %s notification failed: %w", n.Action, err)
	}
	return nil
}

func (w *WebhookNotifier) postJSON(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
