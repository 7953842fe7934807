package search

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auctions/config"
	"example.com/backstage/services/auctions/internal/models"
)

// ErrDisabled is returned by searches when Elasticsearch is not configured
var ErrDisabled = errors.New("search is disabled")

// ElasticClient indexes resolved auctions and searches the results index
type ElasticClient struct {
	client  *elasticsearch.Client
	config  config.ElasticConfig
	enabled bool
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	if !cfg.Enabled {
		return &ElasticClient{config: cfg}, nil
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client:  client,
		config:  cfg,
		enabled: true,
	}, nil
}

// Enabled reports whether documents are actually indexed
func (c *ElasticClient) Enabled() bool {
	return c != nil && c.enabled
}

// ResultDocument builds the indexed view of a resolved auction
func ResultDocument(a *models.Auction) map[string]interface{} {
	doc := map[string]interface{}{
		"id":                a.ID.String(),
		"title":             a.Title,
		"category":          a.Category,
		"seller_id":         a.SellerID,
		"sale_mode":         a.SaleMode,
		"status":            a.Status,
		"start_price":       a.StartPrice,
		"current_price":     a.CurrentPrice,
		"bid_count":         a.BidCount,
		"end_date":          a.EndDate,
		"payment_status":    a.PaymentStatus,
		"commission_amount": a.CommissionAmount,
		"indexed_at":        time.Now().UTC(),
	}
	if a.WinnerID != nil {
		doc["winner_id"] = *a.WinnerID
	}
	if a.FinalPrice != nil {
		doc["final_price"] = *a.FinalPrice
	}
	for key, v := range a.Specifications.Data() {
		doc["spec:"+key] = v.Value()
	}
	return doc
}

// IndexAuctionResult upserts the auction's outcome keyed by auction id
func (c *ElasticClient) IndexAuctionResult(ctx context.Context, a *models.Auction) error {
	if !c.Enabled() {
		return nil
	}

	body, err := json.Marshal(ResultDocument(a))
	if err != nil {
		return errors.Wrap(err, "failed to marshal result document")
	}

	req := esapi.IndexRequest{
		Index:      config.FormatIndex(c.config, c.config.Index),
		DocumentID: a.ID.String(),
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("auction_id", a.ID.String()).Msg("auction result indexed")
	return nil
}

// ResultQuery filters the results search
type ResultQuery struct {
	Text     string
	Category string
	Status   string
	SellerID string
	WinnerID string
	From     int
	Size     int
}

// Body renders q as an Elasticsearch bool query
func (q ResultQuery) Body() map[string]interface{} {
	var must []interface{}
	var filter []interface{}
	if q.Text != "" {
		must = append(must, map[string]interface{}{
			"match": map[string]interface{}{"title": q.Text},
		})
	}
	for field, value := range map[string]string{
		"category":  q.Category,
		"status":    q.Status,
		"seller_id": q.SellerID,
		"winner_id": q.WinnerID,
	} {
		if value != "" {
			filter = append(filter, map[string]interface{}{
				"term": map[string]interface{}{field + ".keyword": value},
			})
		}
	}

	size := q.Size
	if size <= 0 || size > 100 {
		size = 20
	}

	boolQuery := map[string]interface{}{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	return map[string]interface{}{
		"from":  q.From,
		"size":  size,
		"sort":  []interface{}{map[string]interface{}{"end_date": "desc"}},
		"query": map[string]interface{}{"bool": boolQuery},
	}
}

// SearchResults runs q against the results index and returns the sources
func (c *ElasticClient) SearchResults(ctx context.Context, q ResultQuery) ([]map[string]interface{}, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	queryJSON, err := json.Marshal(q.Body())
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{config.FormatIndex(c.config, c.config.Index)},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return nil, errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return nil, errors.Errorf("Elasticsearch search error: %v", e)
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	docs := make([]map[string]interface{}, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		docs = append(docs, hit.Source)
	}
	return docs, nil
}
