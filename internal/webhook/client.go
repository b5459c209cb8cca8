package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderSignature = "X-Pixelvariant-Signature"
	HeaderTimestamp = "X-Pixelvariant-Timestamp"
	HeaderEvent     = "X-Pixelvariant-Event"
	HeaderDelivery  = "X-Pixelvariant-Delivery"
)

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// JobEvent is the body posted for job.completed and job.failed.
type JobEvent struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	Variant     string    `json:"variant"`
	Items       int       `json:"items"`
	ArchiveKey  string    `json:"archive_key,omitempty"`
	ArchiveSize int       `json:"archive_bytes,omitempty"`
	Error       string    `json:"error,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	c.MaxAttempts = max(c.MaxAttempts, 1)
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	c.MaxBackoff = max(c.MaxBackoff, c.InitialBackoff)
	return c
}

// StatusError is returned when the receiver answers outside 2xx.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook receiver returned status %d", e.StatusCode)
}

// Client posts signed job events, retrying with capped exponential backoff.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// delivery is one event. Every attempt carries the same body, timestamp,
// signature and delivery id.
type delivery struct {
	endpoint string
	body     []byte
	header   http.Header
}

func (c *Client) newDelivery(endpoint, event string, payload any) (delivery, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return delivery{}, fmt.Errorf("marshal webhook payload: %w", err)
	}
	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set(HeaderTimestamp, timestamp)
	header.Set(HeaderSignature, Sign(c.cfg.SigningSecret, timestamp, body))
	header.Set(HeaderEvent, event)
	header.Set(HeaderDelivery, uuid.NewString())
	return delivery{endpoint: endpoint, body: body, header: header}, nil
}

func (c *Client) post(ctx context.Context, d delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(d.body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header = d.header.Clone()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Send delivers payload as event to endpoint. An empty endpoint is a no-op.
func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	d, err := c.newDelivery(endpoint, event, payload)
	if err != nil {
		return err
	}

	wait := c.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = c.post(ctx, d); lastErr == nil {
			return nil
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait = min(wait*2, c.cfg.MaxBackoff)
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// Sign returns the signature header value: hex HMAC-SHA256 over
// "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header against the body.
func Verify(secret, timestamp, signature string, body []byte) error {
	if !hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
