package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
)

type ImageMatchConfig struct {
	URL     string        `envconfig:"URL"`
	Token   string        `envconfig:"TOKEN"`
	Timeout time.Duration `split_words:"true" default:"10s"`
}

func (c ImageMatchConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// HTTPImageMatcher calls the external visual search service.
type HTTPImageMatcher struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

var _ ImageMatcher = (*HTTPImageMatcher)(nil)

func NewHTTPImageMatcher(cfg ImageMatchConfig) (*HTTPImageMatcher, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("image match url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid image match url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPImageMatcher{
		endpoint:   base + "/match",
		token:      strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type imageMatchRequest struct {
	TenantID   string `json:"tenant_id"`
	CatalogRef string `json:"catalog_ref,omitempty"`
	ImageURL   string `json:"image_url"`
}

type imageMatchResponse struct {
	Matched bool              `json:"matched"`
	Score   float64           `json:"score"`
	Product contractx.Product `json:"product"`
}

func (m *HTTPImageMatcher) Match(ctx context.Context, t tenantx.Tenant, imageURL string) (contractx.Product, bool, error) {
	payload, err := json.Marshal(imageMatchRequest{TenantID: t.ID, CatalogRef: t.CatalogRef, ImageURL: imageURL})
	if err != nil {
		return contractx.Product{}, false, fmt.Errorf("marshal image match request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return contractx.Product{}, false, fmt.Errorf("build image match request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.token != "" {
		req.Header.Set("Authorization", "Bearer "+m.token)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return contractx.Product{}, false, fmt.Errorf("image match request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return contractx.Product{}, false, fmt.Errorf("read image match response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return contractx.Product{}, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return contractx.Product{}, false, fmt.Errorf("image match returned status %d", resp.StatusCode)
	}

	var decoded imageMatchResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return contractx.Product{}, false, fmt.Errorf("decode image match response: %w", err)
	}
	if !decoded.Matched || strings.TrimSpace(decoded.Product.SKU) == "" {
		return contractx.Product{}, false, nil
	}
	if decoded.Product.Currency == "" {
		decoded.Product.Currency = t.Currency()
	}
	return decoded.Product, true, nil
}
