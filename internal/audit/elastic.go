package audit

import (
	"bytes"
	"context"
	"encoding/json"

	"example.com/backstage/services/ota/config"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

// ElasticRecorder indexes audit entries for search
type ElasticRecorder struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticRecorder creates an Elasticsearch backed recorder
func NewElasticRecorder(cfg config.ElasticConfig) (*ElasticRecorder, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  string(cfg.Password),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticRecorder{client: client, index: cfg.Index}, nil
}

// Record indexes an entry
func (r *ElasticRecorder) Record(ctx context.Context, entry Entry) error {
	doc := map[string]interface{}{
		"actor_id":    entry.ActorID,
		"action":      entry.Action,
		"target_type": entry.TargetType,
		"target_id":   entry.TargetID,
		"details":     entry.Details,
		"created_at":  entry.At,
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to marshal audit document")
	}

	req := esapi.IndexRequest{
		Index:      r.index,
		DocumentID: uuid.NewString(),
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, r.client)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return pkgerrors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return pkgerrors.Errorf("Elasticsearch index error: %v", e)
	}

	return nil
}
