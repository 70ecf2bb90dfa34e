package model

import "time"

// Knowledge record sources.
const (
	KnowledgeSourceAdmin       = "admin"
	KnowledgeSourceHumanReview = "human_review"
)

// KnowledgeCategoryLearned tags records created by the reviewer feedback loop.
const KnowledgeCategoryLearned = "learned"

// KnowledgeRecord is one retrievable fact. The MySQL row is authoritative; the
// embedding lives in the tenant's Elasticsearch index and is regenerated
// whenever title or content changes. Records on the learning path are never
// hard-deleted, only deactivated.
type KnowledgeRecord struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	TenantSchema string    `gorm:"size:64;index;not null" json:"tenantSchema"`
	Title        string    `gorm:"size:512;not null" json:"title"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	Category     string    `gorm:"size:64;index" json:"category"`
	Subcategory  string    `gorm:"size:64;index" json:"subcategory"`
	Source       string    `gorm:"size:64" json:"source"`
	Metadata     string    `gorm:"type:text" json:"metadata"`
	Active       bool      `gorm:"default:true" json:"active"`
	UsageCount   int64     `gorm:"default:0" json:"usageCount"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (KnowledgeRecord) TableName() string {
	return "knowledge_records"
}

// KnowledgeSearchResult is one similarity hit from the tenant's index.
type KnowledgeSearchResult struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Similarity  float64 `json:"similarity"`
}

// EsKnowledgeDoc is the document shape stored in the per-tenant Elasticsearch
// index.
type EsKnowledgeDoc struct {
	RecordID    string    `json:"record_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory"`
	Vector      []float32 `json:"vector"`
	Active      bool      `json:"active"`
}
