package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"aibot-go/internal/model"
	"aibot-go/internal/tenant"

	"gorm.io/gorm"
)

// ErrEscalationNotPending reports that an escalation already reached a
// terminal state. Callers treat this as an already-handled acknowledgement,
// not a failure.
var ErrEscalationNotPending = errors.New("escalation is not pending")

// EscalationRepository persists escalation rows. Creation is idempotent per
// originating query (unique dedupe key); resolution is claimed with a single
// conditional update so concurrent reviewer replies serialize without locks.
type EscalationRepository interface {
	// Create inserts the escalation, or returns the existing row (created=false)
	// when a concurrent duplicate turn already escalated the same query.
	Create(ctx context.Context, esc *model.Escalation) (created bool, existing *model.Escalation, err error)
	FindByID(ctx context.Context, schema tenant.Schema, id string) (*model.Escalation, error)
	// ClaimResolution atomically transitions pending → status. Returns
	// ErrEscalationNotPending when another writer already claimed it.
	ClaimResolution(ctx context.Context, schema tenant.Schema, id, status, resolution, resolvedBy string, addedToKnowledge bool) (*model.Escalation, error)
	SetNotifyMessageID(ctx context.Context, schema tenant.Schema, id, messageID string) error
}

// EscalationDedupeKey derives the unique key guarding against duplicate
// escalations for the same query within one conversation.
func EscalationDedupeKey(schema tenant.Schema, conversationID, query string) string {
	sum := sha256.Sum256([]byte(schema.String() + "|" + conversationID + "|" + query))
	return hex.EncodeToString(sum[:])
}

type escalationRepository struct {
	db *gorm.DB
}

// NewEscalationRepository creates a GORM-backed EscalationRepository.
func NewEscalationRepository(db *gorm.DB) EscalationRepository {
	return &escalationRepository{db: db}
}

func (r *escalationRepository) Create(ctx context.Context, esc *model.Escalation) (bool, *model.Escalation, error) {
	err := r.db.WithContext(ctx).Create(esc).Error
	if err == nil {
		return true, esc, nil
	}
	if !isDuplicateKeyError(err) {
		return false, nil, fmt.Errorf("failed to create escalation: %w", err)
	}

	var existing model.Escalation
	if ferr := r.db.WithContext(ctx).
		Where("dedupe_key = ?", esc.DedupeKey).
		First(&existing).Error; ferr != nil {
		return false, nil, fmt.Errorf("failed to load existing escalation: %w", ferr)
	}
	return false, &existing, nil
}

func (r *escalationRepository) FindByID(ctx context.Context, schema tenant.Schema, id string) (*model.Escalation, error) {
	var esc model.Escalation
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_schema = ?", id, schema.String()).
		First(&esc).Error
	if err != nil {
		return nil, err
	}
	return &esc, nil
}

func (r *escalationRepository) ClaimResolution(ctx context.Context, schema tenant.Schema, id, status, resolution, resolvedBy string, addedToKnowledge bool) (*model.Escalation, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.Escalation{}).
		Where("id = ? AND tenant_schema = ? AND status = ?", id, schema.String(), model.EscalationPending).
		Updates(map[string]interface{}{
			"status":             status,
			"resolution":         resolution,
			"resolved_by":        resolvedBy,
			"resolved_at":        now,
			"added_to_knowledge": addedToKnowledge,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim escalation resolution: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrEscalationNotPending
	}
	return r.FindByID(ctx, schema, id)
}

func (r *escalationRepository) SetNotifyMessageID(ctx context.Context, schema tenant.Schema, id, messageID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Escalation{}).
		Where("id = ? AND tenant_schema = ?", id, schema.String()).
		Update("notify_message_id", messageID).Error
}

// isDuplicateKeyError matches both gorm's translated error and the raw MySQL
// duplicate-entry message.
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "Duplicate entry")
}
