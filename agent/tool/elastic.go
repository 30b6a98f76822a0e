package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	contractx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/contract"
	tenantx "github.com/tanpawarit/Grace-Conversational-Commerce/agent/tenant"
)

type ElasticConfig struct {
	Addresses    []string `split_words:"true"`
	Username     string   `split_words:"true"`
	Password     string   `split_words:"true"`
	DefaultIndex string   `split_words:"true" default:"grace-catalog"`
}

func (c ElasticConfig) Enabled() bool {
	return len(c.Addresses) > 0
}

// ElasticsearchCatalog searches a per-tenant index (tenant CatalogRef, or DefaultIndex
// filtered by tenant_id when CatalogRef is empty).
type ElasticsearchCatalog struct {
	client       *elasticsearch.Client
	defaultIndex string
}

var _ CatalogProvider = (*ElasticsearchCatalog)(nil)

func NewElasticsearchCatalog(cfg ElasticConfig) (*ElasticsearchCatalog, error) {
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
	}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return NewElasticsearchCatalogWithClient(es, cfg.DefaultIndex), nil
}

func NewElasticsearchCatalogWithClient(client *elasticsearch.Client, defaultIndex string) *ElasticsearchCatalog {
	if strings.TrimSpace(defaultIndex) == "" {
		defaultIndex = "grace-catalog"
	}
	return &ElasticsearchCatalog{client: client, defaultIndex: defaultIndex}
}

type esProduct struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	ImageURL string  `json:"image_url"`
	InStock  bool    `json:"in_stock"`
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			Source esProduct `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (c *ElasticsearchCatalog) Search(ctx context.Context, t tenantx.Tenant, query, sku string, limit int) ([]contractx.Product, error) {
	if limit <= 0 {
		limit = DefaultTopK
	}
	index := strings.TrimSpace(t.CatalogRef)
	var filter []map[string]any
	if index == "" {
		index = c.defaultIndex
		filter = append(filter, map[string]any{"term": map[string]any{"tenant_id": t.ID}})
	}

	var should []map[string]any
	if q := strings.TrimSpace(query); q != "" {
		should = append(should, map[string]any{
			"multi_match": map[string]any{
				"query":     q,
				"fields":    []string{"name^3", "tags^2", "description", "sku"},
				"fuzziness": "AUTO",
			},
		})
	}
	if s := strings.TrimSpace(sku); s != "" {
		should = append(should, map[string]any{
			"term": map[string]any{"sku": map[string]any{"value": s, "boost": 10}},
		})
	}

	boolQuery := map[string]any{
		"should":               should,
		"minimum_should_match": 1,
	}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	body := map[string]any{
		"size":  limit,
		"query": map[string]any{"bool": boolQuery},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}

	res, err := c.client.Search(
		c.client.Search.WithContext(ctx),
		c.client.Search.WithIndex(index),
		c.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		if res.StatusCode == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("elasticsearch search error: %s", res.Status())
	}

	var decoded esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]contractx.Product, 0, len(decoded.Hits.Hits))
	for _, hit := range decoded.Hits.Hits {
		p := hit.Source
		if p.Currency == "" {
			p.Currency = t.Currency()
		}
		out = append(out, contractx.Product(p))
	}
	return out, nil
}
