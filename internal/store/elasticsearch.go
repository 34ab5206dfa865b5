package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const scrollKeepAlive = time.Minute

// Elasticsearch keeps one document per job id in a search index. The
// partial-update merge is delegated to the engine's doc update.
type Elasticsearch struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticsearch connects to the given hosts and returns the
// search-index backend.
func NewElasticsearch(hosts []string, index string) (*Elasticsearch, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: hosts})
	if err != nil {
		return nil, fmt.Errorf("connect elasticsearch: %w", err)
	}
	return &Elasticsearch{client: client, index: index}, nil
}

func checkResponse(res *esapi.Response, err error, op, id string) error {
	if err != nil {
		return fmt.Errorf("%s job %s: %w", op, id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%s job %s: %s", op, id, res.Status())
	}
	return nil
}

type searchPage struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *Elasticsearch) LoadAll(ctx context.Context) ([]Record, error) {
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithScroll(scrollKeepAlive),
		s.client.Search.WithSize(100),
	)
	if err != nil {
		return nil, fmt.Errorf("search jobs: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		// Index does not exist yet; nothing persisted.
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("search jobs: %s", res.Status())
	}

	var records []Record
	var page searchPage
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode search page: %w", err)
	}
	for {
		for _, hit := range page.Hits.Hits {
			records = append(records, Record{ID: hit.ID, Data: hit.Source})
		}
		if len(page.Hits.Hits) == 0 {
			break
		}
		scrollRes, err := s.client.Scroll(
			s.client.Scroll.WithContext(ctx),
			s.client.Scroll.WithScrollID(page.ScrollID),
			s.client.Scroll.WithScroll(scrollKeepAlive),
		)
		if err != nil {
			return nil, fmt.Errorf("scroll jobs: %w", err)
		}
		page = searchPage{}
		err = json.NewDecoder(scrollRes.Body).Decode(&page)
		scrollRes.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode scroll page: %w", err)
		}
	}
	return records, nil
}

func (s *Elasticsearch) Create(ctx context.Context, id string, data []byte) error {
	res, err := s.client.Index(s.index, bytes.NewReader(data),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(id),
		s.client.Index.WithRefresh("true"),
	)
	return checkResponse(res, err, "index", id)
}

func (s *Elasticsearch) Update(ctx context.Context, id string, data []byte) error {
	body, err := json.Marshal(map[string]json.RawMessage{"doc": data})
	if err != nil {
		return fmt.Errorf("build doc update for %s: %w", id, err)
	}
	res, err := s.client.Update(s.index, id, bytes.NewReader(body),
		s.client.Update.WithContext(ctx),
		s.client.Update.WithRefresh("true"),
	)
	return checkResponse(res, err, "update", id)
}

func (s *Elasticsearch) Delete(ctx context.Context, id string) error {
	res, err := s.client.Delete(s.index, id,
		s.client.Delete.WithContext(ctx),
		s.client.Delete.WithRefresh("true"),
	)
	return checkResponse(res, err, "delete", id)
}
