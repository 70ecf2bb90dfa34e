package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aibot-go/internal/model"
	"aibot-go/internal/repository"
	"aibot-go/internal/tenant"
	"aibot-go/pkg/llm"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// fakeLLM returns a canned completion and records the messages it saw.
type fakeLLM struct {
	content      string
	finishReason string
	err          error
	gotMessages  []llm.Message
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams) (*llm.Completion, error) {
	f.gotMessages = messages
	if f.err != nil {
		return nil, f.err
	}
	reason := f.finishReason
	if reason == "" {
		reason = "stop"
	}
	return &llm.Completion{Content: f.content, FinishReason: reason}, nil
}

func (f *fakeLLM) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	f.gotMessages = messages
	if f.err != nil {
		return f.err
	}
	// stream in two chunks to exercise accumulation
	half := len(f.content) / 2
	if err := writer.WriteMessage(1, []byte(f.content[:half])); err != nil {
		return err
	}
	return writer.WriteMessage(1, []byte(f.content[half:]))
}

// fakeEmbedder returns a fixed vector.
type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.vector == nil {
		return []float32{0.1, 0.2}, nil
	}
	return f.vector, nil
}

// fakeChannel records notifications; LookupToken serves the stored tokens.
type fakeChannel struct {
	notifyErr error
	messages  []string
	tokens    map[string]string // messageID -> token
}

func (f *fakeChannel) Notify(ctx context.Context, channelID, body, correlationToken string) (string, error) {
	if f.notifyErr != nil {
		return "", f.notifyErr
	}
	id := fmt.Sprintf("msg-%d", len(f.messages)+1)
	f.messages = append(f.messages, body)
	if f.tokens == nil {
		f.tokens = make(map[string]string)
	}
	f.tokens[id] = correlationToken
	return id, nil
}

func (f *fakeChannel) LookupToken(ctx context.Context, messageID string) (string, error) {
	tok, ok := f.tokens[messageID]
	if !ok {
		return "", errors.New("token not found")
	}
	return tok, nil
}

// fakeEscalationRepo keeps rows in memory and enforces the same dedupe and
// pending-claim semantics as the MySQL implementation.
type fakeEscalationRepo struct {
	rows     map[string]*model.Escalation // by ID
	byDedupe map[string]string            // dedupe key -> ID
}

func newFakeEscalationRepo() *fakeEscalationRepo {
	return &fakeEscalationRepo{
		rows:     make(map[string]*model.Escalation),
		byDedupe: make(map[string]string),
	}
}

func (f *fakeEscalationRepo) Create(ctx context.Context, esc *model.Escalation) (bool, *model.Escalation, error) {
	if id, ok := f.byDedupe[esc.DedupeKey]; ok {
		return false, f.rows[id], nil
	}
	cp := *esc
	f.rows[esc.ID] = &cp
	f.byDedupe[esc.DedupeKey] = esc.ID
	return true, esc, nil
}

func (f *fakeEscalationRepo) FindByID(ctx context.Context, schema tenant.Schema, id string) (*model.Escalation, error) {
	esc, ok := f.rows[id]
	if !ok || esc.TenantSchema != string(schema) {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *esc
	return &cp, nil
}

func (f *fakeEscalationRepo) ClaimResolution(ctx context.Context, schema tenant.Schema, id, status, resolution, resolvedBy string, addedToKnowledge bool) (*model.Escalation, error) {
	esc, ok := f.rows[id]
	if !ok || esc.TenantSchema != string(schema) {
		return nil, gorm.ErrRecordNotFound
	}
	if esc.Status != model.EscalationPending {
		return nil, repository.ErrEscalationNotPending
	}
	now := time.Now()
	esc.Status = status
	esc.Resolution = resolution
	esc.ResolvedBy = resolvedBy
	esc.ResolvedAt = &now
	esc.AddedToKnowledge = addedToKnowledge
	cp := *esc
	return &cp, nil
}

func (f *fakeEscalationRepo) SetNotifyMessageID(ctx context.Context, schema tenant.Schema, id, messageID string) error {
	if esc, ok := f.rows[id]; ok {
		esc.NotifyMessageID = messageID
	}
	return nil
}

// fakeConvRepo is an in-memory conversation store with the same ownership
// semantics as the Redis implementation.
type fakeConvRepo struct {
	sessions      map[string]*model.Session
	turns         map[string][]model.Turn
	owners        map[string]uint
	current       map[string]string // schema/member -> conversation ID
	escalatedIDs  []string
	resolvedIDs   []string
	appendErr     error
	maxStored     int
	refreshedWith []string
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		sessions:  make(map[string]*model.Session),
		turns:     make(map[string][]model.Turn),
		owners:    make(map[string]uint),
		current:   make(map[string]string),
		maxStored: 20,
	}
}

func (f *fakeConvRepo) CreateSession(ctx context.Context, schema tenant.Schema, memberID uint) (*model.Session, error) {
	s := &model.Session{
		ID:           uuid.NewString(),
		TenantSchema: string(schema),
		MemberID:     memberID,
		CreatedAt:    time.Now(),
	}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeConvRepo) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, errors.New("session not found")
	}
	return s, nil
}

func (f *fakeConvRepo) RefreshSession(ctx context.Context, sessionID string) error {
	f.refreshedWith = append(f.refreshedWith, sessionID)
	return nil
}

func (f *fakeConvRepo) GetOrCreateConversationID(ctx context.Context, schema tenant.Schema, memberID uint) (string, error) {
	key := fmt.Sprintf("%s/%d", schema, memberID)
	if id, ok := f.current[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	f.current[key] = id
	f.owners[id] = memberID
	return id, nil
}

func (f *fakeConvRepo) AppendTurn(ctx context.Context, conversationID string, turn model.Turn) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	turns := append(f.turns[conversationID], turn)
	if len(turns) > f.maxStored {
		turns = turns[len(turns)-f.maxStored:]
	}
	f.turns[conversationID] = turns
	return nil
}

func (f *fakeConvRepo) ReadHistory(ctx context.Context, conversationID string, limit int, requestingMemberID uint) ([]model.Turn, error) {
	if owner, ok := f.owners[conversationID]; ok && owner != requestingMemberID {
		return nil, repository.ErrOwnershipMismatch
	}
	turns := f.turns[conversationID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (f *fakeConvRepo) OwnerOf(ctx context.Context, conversationID string) (uint, error) {
	owner, ok := f.owners[conversationID]
	if !ok {
		return 0, repository.ErrConversationNotFound
	}
	return owner, nil
}

func (f *fakeConvRepo) MarkTurnEscalated(ctx context.Context, conversationID, turnID string) error {
	f.escalatedIDs = append(f.escalatedIDs, turnID)
	for i := range f.turns[conversationID] {
		if f.turns[conversationID][i].ID == turnID {
			f.turns[conversationID][i].Escalated = true
		}
	}
	return nil
}

func (f *fakeConvRepo) MarkTurnResolved(ctx context.Context, conversationID, turnID string) error {
	f.resolvedIDs = append(f.resolvedIDs, turnID)
	for i := range f.turns[conversationID] {
		if f.turns[conversationID][i].ID == turnID {
			f.turns[conversationID][i].EscalationResolved = true
		}
	}
	return nil
}

// fakeMemberRepo serves a fixed member set.
type fakeMemberRepo struct {
	members map[uint]*model.Member
}

func newFakeMemberRepo(members ...*model.Member) *fakeMemberRepo {
	f := &fakeMemberRepo{members: make(map[uint]*model.Member)}
	for _, m := range members {
		f.members[m.ID] = m
	}
	return f
}

func (f *fakeMemberRepo) Create(member *model.Member) error {
	member.ID = uint(len(f.members) + 1)
	f.members[member.ID] = member
	return nil
}

func (f *fakeMemberRepo) FindByUsername(username string) (*model.Member, error) {
	for _, m := range f.members {
		if m.Username == username {
			return m, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeMemberRepo) FindByID(memberID uint) (*model.Member, error) {
	m, ok := f.members[memberID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return m, nil
}

func (f *fakeMemberRepo) Update(member *model.Member) error {
	f.members[member.ID] = member
	return nil
}

// fakeKnowledgeRepo serves canned search results and records inserts. With
// learnedSimilarity set, inserted records are served back by Search, the way
// the real index surfaces a freshly learned answer.
type fakeKnowledgeRepo struct {
	searchResults     []model.KnowledgeSearchResult
	searchErr         error
	inserted          []*model.KnowledgeRecord
	insertErr         error
	usageIDs          []string
	learnedSimilarity float64
}

func (f *fakeKnowledgeRepo) Search(ctx context.Context, schema tenant.Schema, queryVector []float32, minSimilarity float64, topK int) ([]model.KnowledgeSearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	results := append([]model.KnowledgeSearchResult(nil), f.searchResults...)
	if f.learnedSimilarity > 0 {
		for _, rec := range f.inserted {
			results = append(results, model.KnowledgeSearchResult{
				ID:         rec.ID,
				Title:      rec.Title,
				Content:    rec.Content,
				Similarity: f.learnedSimilarity,
			})
		}
	}
	return results, nil
}

func (f *fakeKnowledgeRepo) Insert(ctx context.Context, schema tenant.Schema, record *model.KnowledgeRecord, vector []float32) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, record)
	return nil
}

func (f *fakeKnowledgeRepo) Deactivate(ctx context.Context, schema tenant.Schema, recordID string) error {
	return nil
}

func (f *fakeKnowledgeRepo) IncrementUsage(ctx context.Context, schema tenant.Schema, recordIDs []string) error {
	f.usageIDs = append(f.usageIDs, recordIDs...)
	return nil
}
