// Package es provides the Elasticsearch client used as the per-tenant
// knowledge vector index.
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"aibot-go/internal/config"
	"aibot-go/internal/model"
	"aibot-go/internal/tenant"
	"aibot-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES initializes the Elasticsearch client.
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return nil
}

// IndexName returns the knowledge index name for one tenant schema.
func IndexName(prefix string, schema tenant.Schema) string {
	return fmt.Sprintf("%s_%s", prefix, schema)
}

// EnsureKnowledgeIndex creates the tenant's knowledge index if it does not
// exist yet. dims must match the embedding model's output dimension.
func EnsureKnowledgeIndex(prefix string, schema tenant.Schema, dims int) error {
	indexName := IndexName(prefix, schema)

	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("[ES] failed to check index %s: %v", indexName, err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status checking index %s: %d", indexName, res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"record_id": { "type": "keyword" },
				"title": { "type": "text" },
				"content": { "type": "text" },
				"category": { "type": "keyword" },
				"subcategory": { "type": "keyword" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"active": { "type": "boolean" }
			}
		}
	}`, dims)

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("[ES] failed to create index %s: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("[ES] index creation returned error for %s: %s", indexName, res.String())
		return errors.New("elasticsearch returned an error on index creation")
	}

	log.Infof("[ES] index %s created", indexName)
	return nil
}

// IndexKnowledgeDoc indexes one knowledge document into the tenant's index,
// refreshing immediately so learned answers are retrievable right away.
func IndexKnowledgeDoc(ctx context.Context, indexName string, doc model.EsKnowledgeDoc) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: doc.RecordID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("[ES] failed to index knowledge doc: %s", res.String())
		return errors.New("failed to index knowledge document")
	}

	return nil
}
