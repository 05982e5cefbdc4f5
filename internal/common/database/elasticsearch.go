// internal/common/database/elasticsearch.go
package database

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"drivethru-orchestrator/internal/common/config"
	apperrors "drivethru-orchestrator/internal/common/errors"

	"github.com/elastic/go-elasticsearch/v8"
)

// turnIndexMapping keeps the turn log fields as keywords so dashboards can aggregate on them.
const turnIndexMapping = `{
  "mappings": {
    "properties": {
      "sessionId":  {"type": "keyword"},
      "turn":       {"type": "integer"},
      "intent":     {"type": "keyword"},
      "resolution": {"type": "keyword"},
      "state":      {"type": "keyword"},
      "directive":  {"type": "keyword"},
      "failure":    {"type": "keyword"},
      "action":     {"type": "keyword"},
      "totalCents": {"type": "long"},
      "timestamp":  {"type": "date"}
    }
  }
}`

type ElasticsearchClient struct {
	Client *elasticsearch.Client
}

func NewElasticsearch(cfg config.ElasticsearchConfig) (*ElasticsearchClient, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &ElasticsearchClient{Client: es}, nil
}

func (c *ElasticsearchClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := c.Client.Ping(c.Client.Ping.WithContext(ctx))
	if err != nil {
		return apperrors.NewDatabaseConnectionError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewDatabaseConnectionError("elasticsearch", fmt.Errorf("ping: %s", res.Status()))
	}
	return nil
}

// EnsureTurnIndex creates index with the turn log mapping unless it already exists.
func (c *ElasticsearchClient) EnsureTurnIndex(ctx context.Context, index string) error {
	exists, err := c.Client.Indices.Exists([]string{index}, c.Client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", index, err)
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	res, err := c.Client.Indices.Create(index,
		c.Client.Indices.Create.WithContext(ctx),
		c.Client.Indices.Create.WithBody(strings.NewReader(turnIndexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()

	// A concurrent replica may have created it first.
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return fmt.Errorf("create index %s: %s", index, res.Status())
	}
	return nil
}
