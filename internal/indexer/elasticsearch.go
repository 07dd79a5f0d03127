package indexer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	json "github.com/goccy/go-json"

	"github.com/multiversx/mx-chain-etl-go/internal/retry"
)

const (
	// scrollConsistencyTime is the point-in-time keep-alive, long enough
	// that a slow consumer never sees the cursor expire mid-scan.
	scrollConsistencyTime = "10m"

	// scanBatchSize is the number of hits requested per search_after
	// page.
	scanBatchSize = 7500

	// maxConnections bounds the HTTP connection pool the client keeps
	// open to the indexer.
	maxConnections = 64

	maxRetries = 10
)

// ElasticsearchClient implements Client against an Elasticsearch (or
// OpenSearch-compatible) cluster, using a Point-in-Time plus search_after
// scroll so a scan survives index refreshes without missing or duplicating
// hits.
type ElasticsearchClient struct {
	es *elasticsearch.Client
}

// NewElasticsearchClient dials url with a connection pool and retry policy
// sized for sustained bulk scanning.
func NewElasticsearchClient(url string, username, password string) (*ElasticsearchClient, error) {
	cfg := elasticsearch.Config{
		Addresses:     []string{url},
		Username:      username,
		Password:      password,
		MaxRetries:    maxRetries,
		RetryOnStatus: []int{502, 503, 504, 429},
		Transport: &http.Transport{
			MaxIdleConnsPerHost: maxConnections,
			MaxConnsPerHost:     maxConnections,
		},
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to construct elasticsearch client: %v", ErrUnavailable, err)
	}
	return &ElasticsearchClient{es: client}, nil
}

// CountRecords implements Client.
func (c *ElasticsearchClient) CountRecords(ctx context.Context, index string, start, end *int64) (int64, error) {
	body, err := encodeQuery(queryObject(start, end))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	req := esapi.CountRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return 0, fmt.Errorf("%w: count request for %s: %v", ErrUnavailable, index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("%w: count request for %s returned status %s", ErrUnavailable, index, res.Status())
	}

	var decoded struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("%w: decoding count response for %s: %v", ErrBadResponse, index, err)
	}

	return decoded.Count, nil
}

// GetRecords implements Client using an open Point-in-Time and
// search_after, so pages remain consistent against concurrent writes for
// the duration of scrollConsistencyTime.
func (c *ElasticsearchClient) GetRecords(ctx context.Context, index string, start, end *int64, fn func(Record) error) error {
	pitID, err := c.openPIT(ctx, index)
	if err != nil {
		return err
	}
	defer c.closePIT(context.Background(), pitID)

	query := queryObject(start, end)
	var searchAfter []any

	for {
		hits, nextSearchAfter, nextPITID, err := c.searchPage(ctx, pitID, query, searchAfter)
		if err != nil {
			return err
		}
		pitID = nextPITID

		if len(hits) == 0 {
			return nil
		}

		for _, hit := range hits {
			if err := fn(Record{ID: hit.ID, Source: hit.Source}); err != nil {
				return err
			}
		}

		searchAfter = nextSearchAfter
	}
}

type esHit struct {
	ID         string          `json:"_id"`
	Source     json.RawMessage `json:"_source"`
	SortValues []any           `json:"sort"`
}

func (c *ElasticsearchClient) openPIT(ctx context.Context, index string) (string, error) {
	req := esapi.OpenPointInTimeRequest{
		Index:     []string{index},
		KeepAlive: scrollConsistencyTime,
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := req.Do(ctx, c.es)
		if err == nil && !res.IsError() {
			defer res.Body.Close()
			var decoded struct {
				ID string `json:"id"`
			}
			if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
				return "", fmt.Errorf("%w: decoding open-pit response: %v", ErrBadResponse, err)
			}
			return decoded.ID, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("status %s", res.Status())
			res.Body.Close()
		}
		if !retry.Wait(ctx, attempt) {
			break
		}
	}

	return "", fmt.Errorf("%w: failed to open point in time for %s: %v", ErrUnavailable, index, lastErr)
}

func (c *ElasticsearchClient) closePIT(ctx context.Context, pitID string) {
	if pitID == "" {
		return
	}
	body, _ := json.Marshal(map[string]string{"id": pitID})
	req := esapi.ClosePointInTimeRequest{Body: bytes.NewReader(body)}
	if res, err := req.Do(ctx, c.es); err == nil {
		res.Body.Close()
	}
}

func (c *ElasticsearchClient) searchPage(ctx context.Context, pitID string, query map[string]any, searchAfter []any) ([]esHit, []any, string, error) {
	payload := map[string]any{
		"size":  scanBatchSize,
		"query": query,
		"sort":  []any{map[string]string{"_shard_doc": "asc"}},
		"pit": map[string]any{
			"id":         pitID,
			"keep_alive": scrollConsistencyTime,
		},
	}
	if len(searchAfter) > 0 {
		payload["search_after"] = searchAfter
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, pitID, fmt.Errorf("%w: encoding search request: %v", ErrBadResponse, err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		req := esapi.SearchRequest{Body: bytes.NewReader(body)}
		res, err := req.Do(ctx, c.es)
		if err != nil {
			lastErr = err
			if !retry.Wait(ctx, attempt) {
				break
			}
			continue
		}

		if res.IsError() {
			lastErr = fmt.Errorf("status %s", res.Status())
			res.Body.Close()
			if !retry.Wait(ctx, attempt) {
				break
			}
			continue
		}

		raw, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return nil, nil, pitID, fmt.Errorf("%w: reading search response: %v", ErrBadResponse, err)
		}

		var decoded struct {
			PITID string `json:"pit_id"`
			Hits  struct {
				Hits []esHit `json:"hits"`
			} `json:"hits"`
		}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, nil, pitID, fmt.Errorf("%w: decoding search response: %v", ErrBadResponse, err)
		}

		hits := decoded.Hits.Hits
		nextPIT := pitID
		if decoded.PITID != "" {
			nextPIT = decoded.PITID
		}

		var nextSearchAfter []any
		if len(hits) > 0 {
			nextSearchAfter = hits[len(hits)-1].SortValues
		}

		return hits, nextSearchAfter, nextPIT, nil
	}

	return nil, nil, pitID, fmt.Errorf("%w: search request failed: %v", ErrUnavailable, lastErr)
}

func queryObject(start, end *int64) map[string]any {
	if start == nil && end == nil {
		return map[string]any{"match_all": map[string]any{}}
	}
	return map[string]any{
		"range": map[string]any{
			"timestamp": map[string]any{
				"gte": start,
				"lt":  end,
			},
		},
	}
}

func encodeQuery(query map[string]any) ([]byte, error) {
	return json.Marshal(map[string]any{"query": query})
}
