// Package repository provides the data access layer.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"aibot-go/internal/config"
	"aibot-go/internal/model"
	"aibot-go/internal/tenant"
	"aibot-go/pkg/log"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrOwnershipMismatch is returned when a member reads a conversation they do
// not own. Treated as a security-relevant validation failure, never retried.
var ErrOwnershipMismatch = errors.New("conversation does not belong to requesting member")

// ErrConversationNotFound is returned for unknown conversation ids.
var ErrConversationNotFound = errors.New("conversation not found")

const conversationTTL = 7 * 24 * time.Hour

// ConversationRepository is the bounded, Redis-backed conversation store.
//
// The conversation → owner index gives O(1) ownership validation; history
// reads never scan sessions. Appends are a single RPUSH+LTRIM pipeline so the
// cap holds under concurrent duplicate sends (trim-on-write).
type ConversationRepository interface {
	CreateSession(ctx context.Context, schema tenant.Schema, memberID uint) (*model.Session, error)
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	RefreshSession(ctx context.Context, sessionID string) error

	GetOrCreateConversationID(ctx context.Context, schema tenant.Schema, memberID uint) (string, error)
	AppendTurn(ctx context.Context, conversationID string, turn model.Turn) error
	ReadHistory(ctx context.Context, conversationID string, limit int, requestingMemberID uint) ([]model.Turn, error)
	OwnerOf(ctx context.Context, conversationID string) (uint, error)
	MarkTurnEscalated(ctx context.Context, conversationID, turnID string) error
	MarkTurnResolved(ctx context.Context, conversationID, turnID string) error
}

type redisConversationRepository struct {
	rdb *redis.Client
	cfg config.ConversationConfig
}

// NewConversationRepository creates the Redis-backed conversation store.
func NewConversationRepository(rdb *redis.Client, cfg config.ConversationConfig) ConversationRepository {
	return &redisConversationRepository{rdb: rdb, cfg: cfg}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func memberConversationKey(schema tenant.Schema, memberID uint) string {
	return fmt.Sprintf("member:%s:%d:current_conversation", schema, memberID)
}

func ownerKey(conversationID string) string {
	return fmt.Sprintf("conv:%s:owner", conversationID)
}

func turnsKey(conversationID string) string {
	return fmt.Sprintf("conv:%s:turns", conversationID)
}

func (r *redisConversationRepository) sessionTTL() time.Duration {
	return time.Duration(r.cfg.SessionTTLHours) * time.Hour
}

// CreateSession creates a session bound to the member's current conversation.
// The member id is immutable for the session's lifetime.
func (r *redisConversationRepository) CreateSession(ctx context.Context, schema tenant.Schema, memberID uint) (*model.Session, error) {
	convID, err := r.GetOrCreateConversationID(ctx, schema, memberID)
	if err != nil {
		return nil, err
	}

	session := &model.Session{
		ID:             uuid.NewString(),
		TenantSchema:   schema.String(),
		MemberID:       memberID,
		ConversationID: convID,
		CreatedAt:      time.Now(),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.rdb.Set(ctx, sessionKey(session.ID), data, r.sessionTTL()).Err(); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return session, nil
}

// GetSession loads a session by id.
func (r *redisConversationRepository) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	data, err := r.rdb.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, errors.New("session not found or expired")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var session model.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// RefreshSession extends the session's inactivity TTL.
func (r *redisConversationRepository) RefreshSession(ctx context.Context, sessionID string) error {
	return r.rdb.Expire(ctx, sessionKey(sessionID), r.sessionTTL()).Err()
}

// GetOrCreateConversationID returns the member's current conversation id,
// creating one (and its ownership index entry) when none exists.
func (r *redisConversationRepository) GetOrCreateConversationID(ctx context.Context, schema tenant.Schema, memberID uint) (string, error) {
	memberKey := memberConversationKey(schema, memberID)
	convID, err := r.rdb.Get(ctx, memberKey).Result()
	if err == redis.Nil {
		convID = uuid.NewString()
		// SetNX loses the race gracefully: the winner's id is adopted.
		ok, err := r.rdb.SetNX(ctx, memberKey, convID, conversationTTL).Result()
		if err != nil {
			return "", fmt.Errorf("failed to set conversation id: %w", err)
		}
		if !ok {
			return r.rdb.Get(ctx, memberKey).Result()
		}
		if err := r.rdb.Set(ctx, ownerKey(convID), memberID, conversationTTL).Err(); err != nil {
			return "", fmt.Errorf("failed to index conversation owner: %w", err)
		}
		return convID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get conversation id: %w", err)
	}
	return convID, nil
}

// AppendTurn appends one turn with a single atomic push-and-trim pipeline.
func (r *redisConversationRepository) AppendTurn(ctx context.Context, conversationID string, turn model.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	key := turnsKey(conversationID)
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-r.cfg.MaxStoredTurns), -1)
		pipe.Expire(ctx, key, conversationTTL)
		pipe.Expire(ctx, ownerKey(conversationID), conversationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// OwnerOf resolves the conversation's owner via the direct index.
func (r *redisConversationRepository) OwnerOf(ctx context.Context, conversationID string) (uint, error) {
	val, err := r.rdb.Get(ctx, ownerKey(conversationID)).Result()
	if err == redis.Nil {
		return 0, ErrConversationNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve conversation owner: %w", err)
	}
	owner, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt owner index for conversation %s: %w", conversationID, err)
	}
	return uint(owner), nil
}

// ReadHistory validates ownership before returning any turns.
func (r *redisConversationRepository) ReadHistory(ctx context.Context, conversationID string, limit int, requestingMemberID uint) ([]model.Turn, error) {
	owner, err := r.OwnerOf(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if owner != requestingMemberID {
		log.Warnw("conversation ownership mismatch",
			"conversationId", conversationID,
			"owner", owner,
			"requestingMemberId", requestingMemberID,
		)
		return nil, ErrOwnershipMismatch
	}

	if limit <= 0 || limit > r.cfg.MaxStoredTurns {
		limit = r.cfg.MaxStoredTurns
	}
	items, err := r.rdb.LRange(ctx, turnsKey(conversationID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation history: %w", err)
	}

	turns := make([]model.Turn, 0, len(items))
	for _, item := range items {
		var turn model.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// MarkTurnEscalated sets the escalated flag on one stored turn.
func (r *redisConversationRepository) MarkTurnEscalated(ctx context.Context, conversationID, turnID string) error {
	return r.setTurnFlag(ctx, conversationID, turnID, "escalated")
}

// MarkTurnResolved sets the escalation-resolved flag on one stored turn.
func (r *redisConversationRepository) MarkTurnResolved(ctx context.Context, conversationID, turnID string) error {
	return r.setTurnFlag(ctx, conversationID, turnID, "escalationResolved")
}

// setTurnFlagScript finds the turn by id and rewrites it in one server-side
// step, so a concurrent append-and-trim cannot shift the index between the
// lookup and the write. The list is capped at MaxStoredTurns, so the scan is
// bounded to one conversation.
var setTurnFlagScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
for i, item in ipairs(items) do
	local ok, turn = pcall(cjson.decode, item)
	if ok and turn['id'] == ARGV[1] then
		turn[ARGV[2]] = true
		redis.call('LSET', KEYS[1], i - 1, cjson.encode(turn))
		return 1
	end
end
return 0
`)

func (r *redisConversationRepository) setTurnFlag(ctx context.Context, conversationID, turnID, field string) error {
	// 0 means the turn was already trimmed out of the window; nothing to flag.
	if err := setTurnFlagScript.Run(ctx, r.rdb, []string{turnsKey(conversationID)}, turnID, field).Err(); err != nil {
		return fmt.Errorf("failed to update turn: %w", err)
	}
	return nil
}
