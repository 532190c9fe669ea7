package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	defaultRequestTimeout = 5 * time.Second
	sendAttempts          = 3
)

// BridgeClient delivers messages through the conversational layer's HTTP
// bridge. Each attempt has a bounded timeout; transient failures are
// retried a couple of times within the call, anything left over is
// reported to the caller as transient and retried on a later tick.
type BridgeClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

var _ Sender = (*BridgeClient)(nil)

// NewBridgeClient returns a client for the bridge at baseURL. timeout
// bounds a single HTTP attempt; zero means the default.
func NewBridgeClient(baseURL, authToken string, timeout time.Duration) *BridgeClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &BridgeClient{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type sendRequest struct {
	UserID string `json:"userId"`
	Message
}

// Send posts the message to the bridge. A 403, 404 or 410 from the bridge
// means the recipient is permanently unreachable.
func (c *BridgeClient) Send(ctx context.Context, userID string, msg Message) error {
	payload, err := json.Marshal(sendRequest{UserID: userID, Message: msg})
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	return retry.Do(
		func() error { return c.post(ctx, payload) },
		retry.Context(ctx),
		retry.Attempts(sendAttempts),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !IsPermanent(err) }),
	)
}

func (c *BridgeClient) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to bridge: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone:
		return fmt.Errorf("bridge returned %d: %w", resp.StatusCode, ErrRecipientUnreachable)
	default:
		return fmt.Errorf("bridge returned unexpected status %d", resp.StatusCode)
	}
}
