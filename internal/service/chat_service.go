package service

import (
	"context"
	"fmt"
	"time"

	"aibot-go/internal/config"
	"aibot-go/internal/model"
	"aibot-go/internal/repository"
	"aibot-go/internal/tenant"
	"aibot-go/pkg/embedding"
	"aibot-go/pkg/llm"
	"aibot-go/pkg/log"

	"github.com/google/uuid"
)

// ChatReply is the pipeline's answer to one member question.
type ChatReply struct {
	ConversationID string   `json:"conversationId"`
	TurnID         string   `json:"turnId"`
	Answer         string   `json:"answer"`
	Confidence     float64  `json:"confidence"`
	Sources        []string `json:"sources,omitempty"`
	Escalated      bool     `json:"escalated"`
	EscalationID   string   `json:"escalationId,omitempty"`
}

// ChatService runs the retrieval-augmented answer pipeline: retrieve, score,
// generate, escalate when the knowledge base cannot ground an answer.
type ChatService interface {
	OpenSession(ctx context.Context, schema tenant.Schema, memberID uint) (*model.Session, error)
	ResumeSession(ctx context.Context, sessionID string) (*model.Session, error)
	Ask(ctx context.Context, session *model.Session, query string) (*ChatReply, error)
	AskStream(ctx context.Context, session *model.Session, query string, writer llm.MessageWriter) (*ChatReply, error)
	History(ctx context.Context, session *model.Session, limit int) ([]model.Turn, error)
}

type chatService struct {
	convRepo          repository.ConversationRepository
	memberRepo        repository.MemberRepository
	knowledgeRepo     repository.KnowledgeRepository
	embeddingClient   embedding.Client
	answerService     AnswerService
	escalationService EscalationService
	retrievalCfg      config.RetrievalConfig
	convCfg           config.ConversationConfig
}

// NewChatService creates a ChatService.
func NewChatService(
	convRepo repository.ConversationRepository,
	memberRepo repository.MemberRepository,
	knowledgeRepo repository.KnowledgeRepository,
	embeddingClient embedding.Client,
	answerService AnswerService,
	escalationService EscalationService,
	retrievalCfg config.RetrievalConfig,
	convCfg config.ConversationConfig,
) ChatService {
	return &chatService{
		convRepo:          convRepo,
		memberRepo:        memberRepo,
		knowledgeRepo:     knowledgeRepo,
		embeddingClient:   embeddingClient,
		answerService:     answerService,
		escalationService: escalationService,
		retrievalCfg:      retrievalCfg,
		convCfg:           convCfg,
	}
}

func (s *chatService) OpenSession(ctx context.Context, schema tenant.Schema, memberID uint) (*model.Session, error) {
	return s.convRepo.CreateSession(ctx, schema, memberID)
}

func (s *chatService) ResumeSession(ctx context.Context, sessionID string) (*model.Session, error) {
	return s.convRepo.GetSession(ctx, sessionID)
}

func (s *chatService) Ask(ctx context.Context, session *model.Session, query string) (*ChatReply, error) {
	return s.ask(ctx, session, query, nil)
}

func (s *chatService) AskStream(ctx context.Context, session *model.Session, query string, writer llm.MessageWriter) (*ChatReply, error) {
	return s.ask(ctx, session, query, writer)
}

// ask is the shared pipeline. With a writer the answer is streamed chunk by
// chunk; either way the full turn is persisted with its confidence, sources
// and escalation outcome.
func (s *chatService) ask(ctx context.Context, session *model.Session, query string, writer llm.MessageWriter) (*ChatReply, error) {
	schema := tenant.Schema(session.TenantSchema)

	// Writes run on a detached context: a client disconnect mid-request must
	// not leave a half-appended turn or a dangling escalation.
	writeCtx := context.WithoutCancel(ctx)

	member, err := s.memberRepo.FindByID(session.MemberID)
	if err != nil {
		return nil, err
	}

	conversationID := session.ConversationID
	if conversationID == "" {
		conversationID, err = s.convRepo.GetOrCreateConversationID(writeCtx, schema, session.MemberID)
		if err != nil {
			return nil, err
		}
		session.ConversationID = conversationID
	}

	history, err := s.convRepo.ReadHistory(ctx, conversationID, s.convCfg.MaxContextTurns, session.MemberID)
	if err != nil {
		return nil, err
	}

	// A bare phone number or email right after the assistant asked for one is
	// contact information for an open escalation, not a new question.
	contactFollowUp := AssistantSolicitedContact(history) && LooksLikeContactInfo(query)

	userTurn := model.Turn{
		ID:        uuid.NewString(),
		Role:      model.RoleUser,
		Content:   query,
		Timestamp: time.Now(),
	}
	if err := s.convRepo.AppendTurn(writeCtx, conversationID, userTurn); err != nil {
		return nil, err
	}

	var results []model.KnowledgeSearchResult
	if !contactFollowUp {
		results, err = s.retrieve(ctx, schema, query)
		if err != nil {
			log.Errorw("[ChatService] knowledge retrieval failed", "conversation_id", conversationID, "err", err)
			return nil, err
		}
	}
	verdict := ScoreKnowledgeMatches(results, s.retrievalCfg.MinSimilarity)
	matched := filterMatches(results, s.retrievalCfg.MinSimilarity)

	in := AnswerInput{
		Query:           query,
		Knowledge:       matched,
		Member:          member,
		History:         history,
		ContactFollowUp: contactFollowUp,
	}
	var answer *AnswerResult
	if writer != nil {
		answer, err = s.answerService.GenerateStream(ctx, in, writer)
	} else {
		answer, err = s.answerService.Generate(ctx, in)
	}
	if err != nil {
		// A generation failure is transient: the caller tells the member to
		// retry. It is not a no-knowledge verdict, so nothing is escalated.
		log.Errorw("[ChatService] answer generation failed", "conversation_id", conversationID, "err", err)
		return nil, err
	}

	assistantTurn := model.Turn{
		ID:         uuid.NewString(),
		Role:       model.RoleAssistant,
		Content:    answer.Text,
		Timestamp:  time.Now(),
		Confidence: answer.Confidence,
		Sources:    answer.Sources,
	}
	if err := s.convRepo.AppendTurn(writeCtx, conversationID, assistantTurn); err != nil {
		return nil, err
	}

	reply := &ChatReply{
		ConversationID: conversationID,
		TurnID:         assistantTurn.ID,
		Answer:         answer.Text,
		Confidence:     answer.Confidence,
		Sources:        answer.Sources,
	}

	if !contactFollowUp && s.escalationService.ShouldEscalate(verdict, answer.Confidence) {
		// Contact extraction scans the whole stored window, not just the
		// slice handed to the LLM.
		contactHistory, herr := s.convRepo.ReadHistory(writeCtx, conversationID, s.convCfg.MaxStoredTurns, session.MemberID)
		if herr != nil {
			contactHistory = append(history, userTurn)
		}
		esc, err := s.escalationService.Escalate(writeCtx, EscalateInput{
			Schema:          schema,
			Member:          member,
			ConversationID:  conversationID,
			TurnID:          assistantTurn.ID,
			Query:           query,
			AttemptedAnswer: answer.Text,
			Verdict:         verdict,
			History:         contactHistory,
		})
		if err != nil {
			log.Errorw("[ChatService] escalation failed", "conversation_id", conversationID, "err", err)
		} else {
			reply.Escalated = true
			reply.EscalationID = esc.ID
		}
	}

	if len(matched) > 0 {
		ids := make([]string, 0, len(matched))
		for _, m := range matched {
			ids = append(ids, m.ID)
		}
		if err := s.knowledgeRepo.IncrementUsage(writeCtx, schema, ids); err != nil {
			log.Warnw("[ChatService] usage counter update failed", "err", err)
		}
	}

	if err := s.convRepo.RefreshSession(writeCtx, session.ID); err != nil {
		log.Warnw("[ChatService] session refresh failed", "session_id", session.ID, "err", err)
	}

	return reply, nil
}

// retrieve embeds the query and searches the tenant's knowledge index. A
// retrieval failure is transient and surfaces to the caller: an empty result
// set is a verdict about the knowledge base, not a stand-in for an outage.
func (s *chatService) retrieve(ctx context.Context, schema tenant.Schema, query string) ([]model.KnowledgeSearchResult, error) {
	vector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	// Retrieve unfiltered so the scorer can tell a weak match from none at all.
	results, err := s.knowledgeRepo.Search(ctx, schema, vector, 0, s.retrievalCfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}
	return results, nil
}

func (s *chatService) History(ctx context.Context, session *model.Session, limit int) ([]model.Turn, error) {
	conversationID := session.ConversationID
	if conversationID == "" {
		id, err := s.convRepo.GetOrCreateConversationID(ctx, tenant.Schema(session.TenantSchema), session.MemberID)
		if err != nil {
			return nil, err
		}
		conversationID = id
	}
	return s.convRepo.ReadHistory(ctx, conversationID, limit, session.MemberID)
}

func filterMatches(results []model.KnowledgeSearchResult, minSimilarity float64) []model.KnowledgeSearchResult {
	matched := make([]model.KnowledgeSearchResult, 0, len(results))
	for _, r := range results {
		if r.Similarity >= minSimilarity {
			matched = append(matched, r)
		}
	}
	return matched
}
