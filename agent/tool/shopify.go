package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
)

const (
	defaultShopifyAPIVersion = "2024-07"
	maxCatalogResponseBytes  = 8 << 20
)

type ShopifyConfig struct {
	// AccessToken is used for any shop without an entry in AccessTokens.
	AccessToken  string            `split_words:"true"`
	AccessTokens map[string]string `split_words:"true"`
	APIVersion   string            `envconfig:"API_VERSION" default:"2024-07"`
	// BaseURL overrides https://<catalog_ref> for every shop.
	BaseURL  string        `envconfig:"BASE_URL"`
	CacheTTL time.Duration `split_words:"true" default:"5m"`
	Timeout  time.Duration `split_words:"true" default:"10s"`
}

func (c ShopifyConfig) Enabled() bool {
	return strings.TrimSpace(c.AccessToken) != "" || len(c.AccessTokens) > 0
}

// ShopifyCatalog reads a tenant's Shopify products (tenant CatalogRef is the shop domain)
// and ranks them locally. Product lists are cached per shop.
type ShopifyCatalog struct {
	cfg        ShopifyConfig
	httpClient *http.Client
	cache      *gocache.Cache
}

var _ CatalogProvider = (*ShopifyCatalog)(nil)

func NewShopifyCatalog(cfg ShopifyConfig) *ShopifyCatalog {
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = defaultShopifyAPIVersion
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ShopifyCatalog{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

// Flush drops every cached product list. Called after a tenant reload.
func (c *ShopifyCatalog) Flush() {
	c.cache.Flush()
}

func (c *ShopifyCatalog) Search(ctx context.Context, t tenantx.Tenant, query, sku string, limit int) ([]contractx.Product, error) {
	items, err := c.products(ctx, t)
	if err != nil {
		return nil, err
	}
	return rankByOverlap(items, query, sku, limit), nil
}

type shopifyProductsResponse struct {
	Products []shopifyProduct `json:"products"`
}

type shopifyProduct struct {
	ID          int64            `json:"id"`
	Title       string           `json:"title"`
	BodyHTML    string           `json:"body_html"`
	ProductType string           `json:"product_type"`
	Tags        string           `json:"tags"`
	Status      string           `json:"status"`
	Variants    []shopifyVariant `json:"variants"`
	Image       *struct {
		Src string `json:"src"`
	} `json:"image"`
}

type shopifyVariant struct {
	SKU               string `json:"sku"`
	Price             string `json:"price"`
	InventoryQuantity int    `json:"inventory_quantity"`
}

func (c *ShopifyCatalog) products(ctx context.Context, t tenantx.Tenant) ([]rankable, error) {
	shop := strings.TrimSpace(t.CatalogRef)
	if shop == "" {
		return nil, fmt.Errorf("tenant %s has no catalog_ref", t.ID)
	}
	if cached, ok := c.cache.Get(shop); ok {
		return cached.([]rankable), nil
	}

	token := strings.TrimSpace(c.cfg.AccessTokens[shop])
	if token == "" {
		token = strings.TrimSpace(c.cfg.AccessToken)
	}
	if token == "" {
		return nil, fmt.Errorf("no shopify access token for %s", shop)
	}

	base := strings.TrimRight(strings.TrimSpace(c.cfg.BaseURL), "/")
	if base == "" {
		base = "https://" + shop
	}
	endpoint := fmt.Sprintf("%s/admin/api/%s/products.json?limit=250&status=active", base, c.cfg.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build shopify request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shopify request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read shopify response: %w", err)
	}
	if len(body) > maxCatalogResponseBytes {
		return nil, errors.New("shopify response too large")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("shopify returned status %d", resp.StatusCode)
	}

	var decoded shopifyProductsResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode shopify products: %w", err)
	}

	items := make([]rankable, 0, len(decoded.Products))
	for _, p := range decoded.Products {
		if p.Status != "" && p.Status != "active" {
			continue
		}
		items = append(items, p.toRankable(t.Currency()))
	}
	c.cache.SetDefault(shop, items)
	return items, nil
}

func (p shopifyProduct) toRankable(currency string) rankable {
	product := contractx.Product{
		SKU:      strconv.FormatInt(p.ID, 10),
		Name:     strings.TrimSpace(p.Title),
		Currency: currency,
	}
	stock := 0
	for i, v := range p.Variants {
		if i == 0 {
			if sku := strings.TrimSpace(v.SKU); sku != "" {
				product.SKU = sku
			}
			product.Price, _ = strconv.ParseFloat(v.Price, 64)
		}
		stock += v.InventoryQuantity
	}
	product.InStock = stock > 0
	if p.Image != nil {
		product.ImageURL = p.Image.Src
	}
	return rankable{
		product: product,
		text:    strings.Join([]string{p.ProductType, strings.ReplaceAll(p.Tags, ",", " "), stripTags(p.BodyHTML)}, " "),
	}
}

func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
