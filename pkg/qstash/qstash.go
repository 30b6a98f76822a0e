package qstash

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSignature = errors.New("qstash: invalid signature")
	ErrPublish          = errors.New("qstash: publish failed")
)

const (
	SignatureHeader = "Upstash-Signature"
	defaultBaseURL  = "https://qstash.upstash.io"
	maxErrorBody    = 4 << 10
)

type Config struct {
	URL               string        `split_words:"true" default:"https://qstash.upstash.io"`
	Token             string        `split_words:"true"`
	CurrentSigningKey string        `split_words:"true"`
	NextSigningKey    string        `split_words:"true"`
	Timeout           time.Duration `split_words:"true" default:"10s"`
	Retries           int           `split_words:"true" default:"3"`
}

// Enabled reports whether the client can publish.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Token) != ""
}

// CanVerify reports whether inbound signatures can be checked.
func (c Config) CanVerify() bool {
	return strings.TrimSpace(c.CurrentSigningKey) != "" || strings.TrimSpace(c.NextSigningKey) != ""
}

type Client struct {
	baseURL           string
	token             string
	currentSigningKey string
	nextSigningKey    string
	retries           int
	httpClient        *http.Client
	now               func() time.Time
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		token:             strings.TrimSpace(cfg.Token),
		currentSigningKey: strings.TrimSpace(cfg.CurrentSigningKey),
		nextSigningKey:    strings.TrimSpace(cfg.NextSigningKey),
		retries:           cfg.Retries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

type publishResponse struct {
	MessageID  string `json:"messageId"`
	ScheduleID string `json:"scheduleId"`
}

// Publish asks QStash to deliver body to destination with retries. It returns the message id.
func (c *Client) Publish(ctx context.Context, destination string, body any) (string, error) {
	headers := map[string]string{}
	if c.retries > 0 {
		headers["Upstash-Retries"] = fmt.Sprint(c.retries)
	}
	out, err := c.post(ctx, "/v2/publish/"+destination, body, headers)
	if err != nil {
		return "", err
	}
	return out.MessageID, nil
}

// Schedule registers a cron delivery of an empty JSON body to destination.
func (c *Client) Schedule(ctx context.Context, destination, cron string) (string, error) {
	if strings.TrimSpace(cron) == "" {
		return "", fmt.Errorf("%w: cron expression is required", ErrPublish)
	}
	out, err := c.post(ctx, "/v2/schedules/"+destination, map[string]any{}, map[string]string{
		"Upstash-Cron": cron,
	})
	if err != nil {
		return "", err
	}
	return out.ScheduleID, nil
}

func (c *Client) post(ctx context.Context, path string, body any, headers map[string]string) (*publishResponse, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: token is not configured", ErrPublish)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal body: %v", ErrPublish, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrPublish, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrPublish, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrPublish, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out publishResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrPublish, err)
		}
	}
	return &out, nil
}

type signatureClaims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Verify checks an Upstash-Signature header for a delivery of body to destinationURL.
// Both the current and the next signing key are accepted so keys can be rotated.
func (c *Client) Verify(signature string, body []byte, destinationURL string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}

	var lastErr error
	for _, key := range []string{c.currentSigningKey, c.nextSigningKey} {
		if key == "" {
			continue
		}
		err := c.verifyWithKey(signature, body, destinationURL, key)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		return fmt.Errorf("%w: no signing keys configured", ErrInvalidSignature)
	}
	return lastErr
}

func (c *Client) verifyWithKey(signature string, body []byte, destinationURL, key string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("Upstash"),
		jwt.WithLeeway(time.Second),
		jwt.WithTimeFunc(c.now),
	}
	if destinationURL != "" {
		opts = append(opts, jwt.WithSubject(destinationURL))
	}

	var claims signatureClaims
	_, err := jwt.ParseWithClaims(signature, &claims, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	sum := sha256.Sum256(body)
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if strings.TrimRight(claims.Body, "=") != want {
		return fmt.Errorf("%w: body hash mismatch", ErrInvalidSignature)
	}
	return nil
}
