package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"aibot-go/internal/config"
	"aibot-go/internal/model"
	"aibot-go/internal/repository"
	"aibot-go/internal/tenant"
	"aibot-go/pkg/log"
	"aibot-go/pkg/notify"

	"github.com/google/uuid"
)

// Escalation triggers selectable via escalation.trigger.
const (
	TriggerNoKnowledge   = "no_knowledge"
	TriggerPoorMatch     = "poor_match"
	TriggerLowConfidence = "low_confidence"
)

// correlationTokenPattern matches the machine-readable token appended to every
// reviewer notification: [Escalation: <uuid>|Schema: <schema>].
var correlationTokenPattern = regexp.MustCompile(
	`\[Escalation:\s*([0-9a-fA-F-]{36})(?:\|Schema:\s*([a-z][a-z0-9_]*))?\]`)

// FormatCorrelationToken renders the token embedded in reviewer notifications.
func FormatCorrelationToken(escalationID string, schema tenant.Schema) string {
	return fmt.Sprintf("[Escalation: %s|Schema: %s]", escalationID, schema)
}

// ParseCorrelationToken extracts the escalation ID and schema from free text.
// Older notifications carried no schema segment; those resolve against the
// registry default.
func ParseCorrelationToken(text string, registry *tenant.Registry) (escalationID string, schema tenant.Schema, ok bool) {
	m := correlationTokenPattern.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	escalationID = strings.ToLower(m[1])
	if m[2] == "" {
		return escalationID, registry.Default(), true
	}
	schema, err := registry.Resolve(m[2])
	if err != nil {
		log.Warnw("[EscalationService] correlation token names unknown schema", "schema", m[2], "escalation_id", escalationID)
		return escalationID, registry.Default(), true
	}
	return escalationID, schema, true
}

// EscalationService opens human-review escalations for unanswerable questions
// and dispatches the reviewer notification.
type EscalationService interface {
	ShouldEscalate(verdict model.MatchVerdict, confidence float64) bool
	Escalate(ctx context.Context, in EscalateInput) (*model.Escalation, error)
}

// EscalateInput is everything recorded on a new escalation.
type EscalateInput struct {
	Schema          tenant.Schema
	Member          *model.Member
	ConversationID  string
	TurnID          string
	Query           string
	AttemptedAnswer string
	Verdict         model.MatchVerdict
	History         []model.Turn
}

type escalationService struct {
	escalationRepo repository.EscalationRepository
	convRepo       repository.ConversationRepository
	channel        notify.Channel
	channelID      string
	cfg            config.EscalationConfig
}

// NewEscalationService creates an EscalationService.
func NewEscalationService(
	escalationRepo repository.EscalationRepository,
	convRepo repository.ConversationRepository,
	channel notify.Channel,
	notifyCfg config.NotifyConfig,
	cfg config.EscalationConfig,
) EscalationService {
	return &escalationService{
		escalationRepo: escalationRepo,
		convRepo:       convRepo,
		channel:        channel,
		channelID:      notifyCfg.ChannelID,
		cfg:            cfg,
	}
}

// ShouldEscalate applies the configured trigger to a scored turn.
func (s *escalationService) ShouldEscalate(verdict model.MatchVerdict, confidence float64) bool {
	if !s.cfg.Enabled {
		return false
	}
	switch s.cfg.Trigger {
	case TriggerPoorMatch:
		return verdict.Status == model.MatchNoKnowledge || verdict.Status == model.MatchPoor
	case TriggerLowConfidence:
		return confidence < s.cfg.ConfidenceThreshold
	default: // TriggerNoKnowledge
		return verdict.Status == model.MatchNoKnowledge
	}
}

// Escalate records the escalation and notifies the reviewer channel. Creation
// is idempotent per (schema, conversation, query): a concurrent duplicate
// adopts the already-recorded row and sends no second notification. A
// notification dispatch failure leaves the escalation pending and is not
// returned to the caller.
func (s *escalationService) Escalate(ctx context.Context, in EscalateInput) (*model.Escalation, error) {
	contacts := ExtractContacts(append(in.History, model.Turn{Role: model.RoleUser, Content: in.Query}))

	esc := &model.Escalation{
		ID:               uuid.NewString(),
		TenantSchema:     string(in.Schema),
		ConversationID:   in.ConversationID,
		TurnID:           in.TurnID,
		MemberID:         in.Member.ID,
		Query:            in.Query,
		AttemptedAnswer:  in.AttemptedAnswer,
		VerdictStatus:    string(in.Verdict.Status),
		BestSimilarity:   in.Verdict.BestSimilarity,
		ExtractedContact: strings.Join(contacts, ", "),
		Status:           model.EscalationPending,
		DedupeKey:        repository.EscalationDedupeKey(in.Schema, in.ConversationID, in.Query),
	}

	created, existing, err := s.escalationRepo.Create(ctx, esc)
	if err != nil {
		return nil, fmt.Errorf("failed to record escalation: %w", err)
	}
	if !created {
		log.Infow("[EscalationService] duplicate escalation suppressed", "escalation_id", existing.ID, "conversation_id", in.ConversationID)
		return existing, nil
	}

	if err := s.convRepo.MarkTurnEscalated(ctx, in.ConversationID, in.TurnID); err != nil {
		log.Errorw("[EscalationService] failed to flag escalated turn", "conversation_id", in.ConversationID, "turn_id", in.TurnID, "err", err)
	}

	body := s.buildNotification(esc, in.Member)
	token := FormatCorrelationToken(esc.ID, in.Schema)
	messageID, err := s.channel.Notify(ctx, s.channelID, body, token)
	if err != nil {
		// The escalation stays pending; a reviewer can still resolve it by token.
		log.Errorw("[EscalationService] reviewer notification failed", "escalation_id", esc.ID, "err", err)
		return esc, nil
	}
	if err := s.escalationRepo.SetNotifyMessageID(ctx, in.Schema, esc.ID, messageID); err != nil {
		log.Errorw("[EscalationService] failed to store notify message id", "escalation_id", esc.ID, "err", err)
	}
	esc.NotifyMessageID = messageID

	log.Infow("[EscalationService] escalation opened", "escalation_id", esc.ID,
		"schema", in.Schema, "conversation_id", in.ConversationID, "verdict", esc.VerdictStatus)
	return esc, nil
}

func (s *escalationService) buildNotification(esc *model.Escalation, member *model.Member) string {
	preview := esc.AttemptedAnswer
	if s.cfg.MaxAnswerPreviewLen > 0 && len(preview) > s.cfg.MaxAnswerPreviewLen {
		preview = preview[:s.cfg.MaxAnswerPreviewLen] + "…"
	}

	var b strings.Builder
	b.WriteString("🙋 Member question needs review\n")
	fmt.Fprintf(&b, "Member: %s (%s, %s)\n", member.FullName, member.PlanTier, member.Company)
	fmt.Fprintf(&b, "Question: %s\n", esc.Query)
	if preview != "" {
		fmt.Fprintf(&b, "Bot answer: %s\n", preview)
	}
	fmt.Fprintf(&b, "Knowledge match: %s (best similarity %.2f)\n", esc.VerdictStatus, esc.BestSimilarity)
	if esc.ExtractedContact != "" {
		fmt.Fprintf(&b, "Contact: %s\n", esc.ExtractedContact)
	}
	b.WriteString("\nReply \"correct\" to confirm the bot answer, \"skip\" to dismiss, or type the correct answer.\n")
	b.WriteString(FormatCorrelationToken(esc.ID, tenant.Schema(esc.TenantSchema)))
	return b.String()
}
