package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aibot-go/internal/config"
	"aibot-go/internal/model"
	"aibot-go/internal/repository"
	"aibot-go/internal/tenant"
	"aibot-go/pkg/embedding"
	"aibot-go/pkg/log"
	"aibot-go/pkg/notify"
	"aibot-go/pkg/storage"

	"github.com/google/uuid"
)

// confirmWords are reviewer replies accepted as confirmation of the bot's
// attempted answer.
var confirmWords = map[string]bool{
	"correct": true,
	"ok":      true,
	"okay":    true,
	"yes":     true,
	"✓":       true,
	"👍":      true,
}

// ClassifyReviewerReply maps a free-text reviewer reply onto a ReviewerAction.
// ok is false for blank replies, which carry no decision.
func ClassifyReviewerReply(text string) (model.ReviewerAction, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return model.ReviewerAction{}, false
	}
	lower := strings.ToLower(trimmed)
	if confirmWords[lower] {
		return model.ReviewerAction{Kind: model.ActionConfirm}, true
	}
	if lower == "skip" {
		return model.ReviewerAction{Kind: model.ActionSkip}, true
	}
	return model.ReviewerAction{Kind: model.ActionCustom, Text: trimmed}, true
}

// ResolutionService closes escalations from reviewer replies, learning new
// knowledge where the reply provides (or confirms) an answer. It implements
// notify.ReplyHandler for the inbound reply consumer.
type ResolutionService interface {
	notify.ReplyHandler
	Resolve(ctx context.Context, schema tenant.Schema, escalationID string, action model.ReviewerAction, reviewer string) (*model.Escalation, error)
}

type resolutionService struct {
	escalationRepo  repository.EscalationRepository
	knowledgeRepo   repository.KnowledgeRepository
	convRepo        repository.ConversationRepository
	memberRepo      repository.MemberRepository
	embeddingClient embedding.Client
	channel         notify.Channel
	registry        *tenant.Registry
	archiveBucket   string
}

// NewResolutionService creates a ResolutionService.
func NewResolutionService(
	escalationRepo repository.EscalationRepository,
	knowledgeRepo repository.KnowledgeRepository,
	convRepo repository.ConversationRepository,
	memberRepo repository.MemberRepository,
	embeddingClient embedding.Client,
	channel notify.Channel,
	registry *tenant.Registry,
	minioCfg config.MinIOConfig,
) ResolutionService {
	return &resolutionService{
		escalationRepo:  escalationRepo,
		knowledgeRepo:   knowledgeRepo,
		convRepo:        convRepo,
		memberRepo:      memberRepo,
		embeddingClient: embeddingClient,
		channel:         channel,
		registry:        registry,
		archiveBucket:   minioCfg.BucketName,
	}
}

// HandleReply correlates an inbound reviewer reply to its escalation and
// resolves it. Uncorrelatable or blank replies are logged and dropped; the
// consumer commits either way.
func (s *resolutionService) HandleReply(ctx context.Context, reply notify.InboundReply) error {
	escalationID, schema, ok := ParseCorrelationToken(reply.ReplyText, s.registry)
	if !ok && reply.RepliedToMessageID != "" {
		token, err := s.channel.LookupToken(ctx, reply.RepliedToMessageID)
		if err != nil {
			log.Warnw("[ResolutionService] token lookup failed", "message_id", reply.RepliedToMessageID, "err", err)
		} else {
			escalationID, schema, ok = ParseCorrelationToken(token, s.registry)
		}
	}
	if !ok {
		log.Warnw("[ResolutionService] reply with no correlation token dropped", "message_id", reply.RepliedToMessageID)
		return nil
	}

	action, ok := ClassifyReviewerReply(stripCorrelationToken(reply.ReplyText))
	if !ok {
		log.Warnw("[ResolutionService] blank reviewer reply dropped", "escalation_id", escalationID)
		return nil
	}

	_, err := s.Resolve(ctx, schema, escalationID, action, reply.SenderIdentity)
	if errors.Is(err, repository.ErrEscalationNotPending) {
		// Replayed or racing reply; the first resolution stands.
		log.Infow("[ResolutionService] escalation already resolved", "escalation_id", escalationID)
		return nil
	}
	return err
}

// Resolve claims the pending escalation and applies the reviewer action:
// confirm stores the bot's attempted answer as learned knowledge, custom
// stores the reviewer's text, skip records dismissal. The escalation reaches
// its terminal state exactly once; replays return ErrEscalationNotPending.
func (s *resolutionService) Resolve(ctx context.Context, schema tenant.Schema, escalationID string, action model.ReviewerAction, reviewer string) (*model.Escalation, error) {
	esc, err := s.escalationRepo.FindByID(ctx, schema, escalationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load escalation %s: %w", escalationID, err)
	}

	status := model.EscalationResolved
	resolution := ""
	switch action.Kind {
	case model.ActionConfirm:
		resolution = esc.AttemptedAnswer
		if resolution == "" {
			// Nothing to confirm; treat as dismissal.
			log.Warnw("[ResolutionService] confirm on escalation with no attempted answer", "escalation_id", escalationID)
			status = model.EscalationSkipped
		}
	case model.ActionSkip:
		status = model.EscalationSkipped
	case model.ActionCustom:
		resolution = action.Text
	}
	learn := status == model.EscalationResolved && resolution != ""

	// Once the claim lands the remaining writes must complete even if the
	// caller (consumer shutdown, webhook disconnect) goes away.
	writeCtx := context.WithoutCancel(ctx)

	claimed, err := s.escalationRepo.ClaimResolution(ctx, schema, escalationID, status, resolution, reviewer, learn)
	if err != nil {
		return nil, err
	}

	if learn {
		if err := s.learnKnowledge(writeCtx, schema, claimed, resolution, reviewer); err != nil {
			// The escalation is already terminal; the record can be re-added by hand.
			log.Errorw("[ResolutionService] failed to store learned knowledge", "escalation_id", escalationID, "err", err)
		}
	}

	if err := s.convRepo.MarkTurnResolved(writeCtx, claimed.ConversationID, claimed.TurnID); err != nil {
		log.Errorw("[ResolutionService] failed to flag resolved turn", "conversation_id", claimed.ConversationID, "turn_id", claimed.TurnID, "err", err)
	}

	s.archiveTranscript(writeCtx, schema, claimed)

	log.Infow("[ResolutionService] escalation closed", "escalation_id", escalationID,
		"schema", schema, "status", status, "learned", learn, "reviewer", reviewer)
	return claimed, nil
}

// learnKnowledge records the reviewer-approved answer as an active knowledge
// record, tagged with the asking member's plan tier so retrieval can surface
// tier-appropriate answers.
func (s *resolutionService) learnKnowledge(ctx context.Context, schema tenant.Schema, esc *model.Escalation, resolution, reviewer string) error {
	subcategory := ""
	if member, err := s.memberRepo.FindByID(esc.MemberID); err != nil {
		log.Warnw("[ResolutionService] member lookup for learned record failed", "member_id", esc.MemberID, "err", err)
	} else {
		subcategory = member.PlanTier
	}

	vector, err := s.embeddingClient.CreateEmbedding(ctx, esc.Query+"\n"+resolution)
	if err != nil {
		return fmt.Errorf("failed to embed learned answer: %w", err)
	}

	meta, _ := json.Marshal(map[string]string{
		"escalation_id": esc.ID,
		"reviewer":      reviewer,
	})
	title := esc.Query
	if len(title) > 255 {
		title = title[:255]
	}
	record := &model.KnowledgeRecord{
		ID:           uuid.NewString(),
		TenantSchema: string(schema),
		Title:        title,
		Content:      resolution,
		Category:     model.KnowledgeCategoryLearned,
		Subcategory:  subcategory,
		Source:       model.KnowledgeSourceHumanReview,
		Metadata:     string(meta),
		Active:       true,
	}
	return s.knowledgeRepo.Insert(ctx, schema, record, vector)
}

// archiveTranscript writes the conversation transcript to object storage.
// Best effort: the resolution outcome does not depend on it.
func (s *resolutionService) archiveTranscript(ctx context.Context, schema tenant.Schema, esc *model.Escalation) {
	turns, err := s.convRepo.ReadHistory(ctx, esc.ConversationID, 0, esc.MemberID)
	if err != nil {
		log.Warnw("[ResolutionService] transcript read for archive failed", "escalation_id", esc.ID, "err", err)
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"escalation":  esc,
		"turns":       turns,
		"archived_at": time.Now().UTC(),
	})
	if err != nil {
		log.Warnw("[ResolutionService] transcript marshal failed", "escalation_id", esc.ID, "err", err)
		return
	}
	objectName, err := storage.PutArchive(ctx, s.archiveBucket, string(schema), esc.ID, payload)
	if err != nil {
		log.Warnw("[ResolutionService] transcript archive failed", "escalation_id", esc.ID, "err", err)
		return
	}
	log.Infow("[ResolutionService] transcript archived", "escalation_id", esc.ID, "object", objectName)
}

// stripCorrelationToken removes the echoed token so it is not classified as a
// custom answer.
func stripCorrelationToken(text string) string {
	return strings.TrimSpace(correlationTokenPattern.ReplaceAllString(text, ""))
}
