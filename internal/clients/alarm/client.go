package alarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AutoEver-4Ever/ever-gateway/internal/pkg/httpx"
	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/apierr"
	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/logger"
)

// Client talks to the alarm server, which owns notification persistence.
// The gateway forwards query and mark-read traffic here verbatim; the only
// coupling is that userId values share the identity space of the JWTs.
type Client struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger, baseURL string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("alarm client: missing base URL")
	}
	return &Client{
		log:        log.With("client", "AlarmClient"),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
	}, nil
}

type ListParams struct {
	SortBy string
	Order  string
	Source string
	Page   int
	Size   int
}

// ListNotifications fetches a page of the user's notifications.
func (c *Client) ListNotifications(ctx context.Context, userID string, p ListParams) (json.RawMessage, error) {
	q := url.Values{}
	if p.SortBy != "" {
		q.Set("sortBy", p.SortBy)
	}
	if p.Order != "" {
		q.Set("order", p.Order)
	}
	if p.Source != "" {
		q.Set("source", p.Source)
	}
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("size", strconv.Itoa(p.Size))
	return c.do(ctx, http.MethodGet, "/notifications/list/"+url.PathEscape(userID), q, nil)
}

// CountNotifications returns per-status notification counts.
func (c *Client) CountNotifications(ctx context.Context, userID, status string) (json.RawMessage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	return c.do(ctx, http.MethodGet, "/notifications/count/"+url.PathEscape(userID), q, nil)
}

// MarkReadList marks the given notification IDs read.
func (c *Client) MarkReadList(ctx context.Context, userID string, notificationIDs []string) (json.RawMessage, error) {
	body := map[string]any{"userId": userID, "notificationId": notificationIDs}
	return c.do(ctx, http.MethodPatch, "/notifications/list/read", nil, body)
}

// MarkReadAll marks every notification of the user read.
func (c *Client) MarkReadAll(ctx context.Context, userID string) (json.RawMessage, error) {
	body := map[string]any{"userId": userID}
	return c.do(ctx, http.MethodPatch, "/notifications/all/read", nil, body)
}

// MarkReadOne marks a single notification read.
func (c *Client) MarkReadOne(ctx context.Context, userID, notificationID string) (json.RawMessage, error) {
	body := map[string]any{"userId": userID, "notificationId": notificationID}
	return c.do(ctx, http.MethodPatch, "/notifications/"+url.PathEscape(notificationID)+"/read", nil, body)
}

// RegisterFcmToken registers a device push token for the user.
func (c *Client) RegisterFcmToken(ctx context.Context, userID, token, deviceInfo string) (json.RawMessage, error) {
	body := map[string]any{"userId": userID, "fcmToken": token, "deviceInfo": deviceInfo}
	return c.do(ctx, http.MethodPost, "/fcm-tokens/register", nil, body)
}

// do issues one request with bounded retries on transient failures and
// returns the raw response body. Non-2xx responses become *apierr.Error
// carrying the downstream status so handlers can forward it.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr error
	var lastResp *http.Response
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := httpx.RetryAfterDuration(lastResp,
				httpx.JitterSleep(time.Duration(attempt)*500*time.Millisecond), 10*time.Second)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var reader io.Reader
		if encoded != nil {
			reader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return nil, fmt.Errorf("build alarm request: %w", err)
		}
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			lastResp = nil
			if httpx.IsRetryableError(err) {
				c.log.Warn("alarm request failed, retrying", "method", method, "path", path, "attempt", attempt, "error", err)
				continue
			}
			return nil, fmt.Errorf("alarm request %s %s: %w", method, path, err)
		}

		raw, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return raw, nil
		}

		apiErr := apierr.New(resp.StatusCode, "alarm_server_error",
			fmt.Errorf("alarm server returned %d for %s %s", resp.StatusCode, method, path))
		if httpx.IsRetryableHTTPStatus(resp.StatusCode) && attempt < c.maxRetries {
			lastErr = apiErr
			lastResp = resp
			c.log.Warn("alarm server transient failure, retrying",
				"method", method, "path", path, "status", resp.StatusCode, "attempt", attempt)
			continue
		}
		return nil, apiErr
	}
	return nil, fmt.Errorf("alarm request %s %s exhausted retries: %w", method, path, lastErr)
}
