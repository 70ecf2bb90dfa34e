package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"aibot-go/internal/config"
	"aibot-go/internal/model"
	"aibot-go/internal/tenant"
	"aibot-go/pkg/es"
	"aibot-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"gorm.io/gorm"
)

// KnowledgeRepository is the per-tenant knowledge store. The MySQL row is
// authoritative; the embedding lives in the tenant's Elasticsearch index. Both
// writes are single statements — the ES document is derived and re-indexable
// from the row, so a crash between the two never corrupts the store.
type KnowledgeRepository interface {
	// Search runs a similarity search over the tenant's index. Results are
	// ordered best-first. minSimilarity <= 0 returns the topK unfiltered.
	Search(ctx context.Context, schema tenant.Schema, queryVector []float32, minSimilarity float64, topK int) ([]model.KnowledgeSearchResult, error)
	// Insert stores the record row and indexes its embedding.
	Insert(ctx context.Context, schema tenant.Schema, record *model.KnowledgeRecord, vector []float32) error
	// Deactivate soft-deletes a record (learning path never hard-deletes).
	Deactivate(ctx context.Context, schema tenant.Schema, recordID string) error
	// IncrementUsage bumps usage counters for records used in an answer.
	IncrementUsage(ctx context.Context, schema tenant.Schema, recordIDs []string) error
}

type knowledgeRepository struct {
	db       *gorm.DB
	esClient *elasticsearch.Client
	esCfg    config.ElasticsearchConfig
}

// NewKnowledgeRepository creates the MySQL+Elasticsearch knowledge store.
func NewKnowledgeRepository(db *gorm.DB, esClient *elasticsearch.Client, esCfg config.ElasticsearchConfig) KnowledgeRepository {
	return &knowledgeRepository{db: db, esClient: esClient, esCfg: esCfg}
}

func (r *knowledgeRepository) Search(ctx context.Context, schema tenant.Schema, queryVector []float32, minSimilarity float64, topK int) ([]model.KnowledgeSearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              topK,
			"num_candidates": topK * 20,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{"active": true},
			},
		},
		"size": topK,
	}
	if minSimilarity > 0 {
		esQuery["min_score"] = minSimilarity
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := r.esClient.Search(
		r.esClient.Search.WithContext(ctx),
		r.esClient.Search.WithIndex(es.IndexName(r.esCfg.IndexPrefix, schema)),
		r.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[KnowledgeRepository] search error for schema %s: %s", schema, string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsKnowledgeDoc `json:"_source"`
				Score  float64              `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.KnowledgeSearchResult, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.KnowledgeSearchResult{
			ID:          hit.Source.RecordID,
			Title:       hit.Source.Title,
			Content:     hit.Source.Content,
			Category:    hit.Source.Category,
			Subcategory: hit.Source.Subcategory,
			Similarity:  hit.Score,
		})
	}
	return results, nil
}

func (r *knowledgeRepository) Insert(ctx context.Context, schema tenant.Schema, record *model.KnowledgeRecord, vector []float32) error {
	record.TenantSchema = schema.String()
	record.Active = true

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to insert knowledge record: %w", err)
	}

	doc := model.EsKnowledgeDoc{
		RecordID:    record.ID,
		Title:       record.Title,
		Content:     record.Content,
		Category:    record.Category,
		Subcategory: record.Subcategory,
		Vector:      vector,
		Active:      true,
	}
	if err := es.IndexKnowledgeDoc(ctx, es.IndexName(r.esCfg.IndexPrefix, schema), doc); err != nil {
		return fmt.Errorf("failed to index knowledge record %s: %w", record.ID, err)
	}
	return nil
}

func (r *knowledgeRepository) Deactivate(ctx context.Context, schema tenant.Schema, recordID string) error {
	result := r.db.WithContext(ctx).
		Model(&model.KnowledgeRecord{}).
		Where("id = ? AND tenant_schema = ?", recordID, schema.String()).
		Update("active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate knowledge record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	// Mirror the flag into the index so searches stop returning it.
	update := map[string]interface{}{"doc": map[string]interface{}{"active": false}}
	body, _ := json.Marshal(update)
	res, err := r.esClient.Update(
		es.IndexName(r.esCfg.IndexPrefix, schema),
		recordID,
		bytes.NewReader(body),
		r.esClient.Update.WithContext(ctx),
		r.esClient.Update.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate indexed record: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch deactivate returned an error: %s", res.Status())
	}
	return nil
}

func (r *knowledgeRepository) IncrementUsage(ctx context.Context, schema tenant.Schema, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.KnowledgeRecord{}).
		Where("id IN ? AND tenant_schema = ?", recordIDs, schema.String()).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1")).Error
}
