package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"aibot-go/internal/config"
	"aibot-go/internal/model"
	"aibot-go/internal/tenant"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestConvRepo(t *testing.T, maxStored int) (ConversationRepository, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	repo := NewConversationRepository(rdb, config.ConversationConfig{
		MaxStoredTurns:  maxStored,
		MaxContextTurns: 10,
		SessionTTLHours: 24,
	})
	return repo, rdb
}

func userTurn(id, content string) model.Turn {
	return model.Turn{ID: id, Role: model.RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

func TestSessionRoundTrip(t *testing.T) {
	repo, _ := newTestConvRepo(t, 20)
	ctx := context.Background()

	session, err := repo.CreateSession(ctx, tenant.Schema("acme_benefits"), 7)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.ConversationID == "" {
		t.Fatal("session must be bound to a conversation")
	}

	loaded, err := repo.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if loaded.MemberID != 7 || loaded.ConversationID != session.ConversationID {
		t.Errorf("loaded = %+v, want the stored session", loaded)
	}
	if err := repo.RefreshSession(ctx, session.ID); err != nil {
		t.Errorf("RefreshSession: %v", err)
	}
}

func TestAppendTurnTrimsToStoredWindow(t *testing.T) {
	repo, _ := newTestConvRepo(t, 4)
	ctx := context.Background()

	convID, err := repo.GetOrCreateConversationID(ctx, tenant.Schema("acme_benefits"), 7)
	if err != nil {
		t.Fatalf("GetOrCreateConversationID: %v", err)
	}
	for i := 1; i <= 7; i++ {
		if err := repo.AppendTurn(ctx, convID, userTurn(fmt.Sprintf("t%d", i), fmt.Sprintf("message %d", i))); err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
	}

	turns, err := repo.ReadHistory(ctx, convID, 0, 7)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("stored turns = %d, want the cap of 4", len(turns))
	}
	if turns[0].ID != "t4" || turns[3].ID != "t7" {
		t.Errorf("window = %s..%s, want t4..t7", turns[0].ID, turns[3].ID)
	}
}

func TestReadHistoryEnforcesOwnership(t *testing.T) {
	repo, _ := newTestConvRepo(t, 20)
	ctx := context.Background()

	convID, err := repo.GetOrCreateConversationID(ctx, tenant.Schema("acme_benefits"), 7)
	if err != nil {
		t.Fatalf("GetOrCreateConversationID: %v", err)
	}
	if err := repo.AppendTurn(ctx, convID, userTurn("t1", "private question")); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	if _, err := repo.ReadHistory(ctx, convID, 0, 8); !errors.Is(err, ErrOwnershipMismatch) {
		t.Fatalf("err = %v, want ErrOwnershipMismatch", err)
	}
	if _, err := repo.ReadHistory(ctx, "no-such-conversation", 0, 7); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("err = %v, want ErrConversationNotFound", err)
	}
}

func TestMarkTurnEscalatedTargetsTurnByID(t *testing.T) {
	repo, _ := newTestConvRepo(t, 10)
	ctx := context.Background()

	convID, err := repo.GetOrCreateConversationID(ctx, tenant.Schema("acme_benefits"), 7)
	if err != nil {
		t.Fatalf("GetOrCreateConversationID: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := repo.AppendTurn(ctx, convID, userTurn(fmt.Sprintf("t%d", i), fmt.Sprintf("message %d", i))); err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
	}

	if err := repo.MarkTurnEscalated(ctx, convID, "t2"); err != nil {
		t.Fatalf("MarkTurnEscalated: %v", err)
	}

	turns, err := repo.ReadHistory(ctx, convID, 0, 7)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	for _, turn := range turns {
		if turn.ID == "t2" && !turn.Escalated {
			t.Error("t2 must carry the escalated flag")
		}
		if turn.ID != "t2" && turn.Escalated {
			t.Errorf("flag landed on %s instead of t2", turn.ID)
		}
	}
}

// A turn that an append-and-trim pushed out of the window must be a no-op to
// flag; the write must never land on whichever turn now sits at the old index.
func TestMarkTurnAfterTrimFlagsNothing(t *testing.T) {
	repo, _ := newTestConvRepo(t, 2)
	ctx := context.Background()

	convID, err := repo.GetOrCreateConversationID(ctx, tenant.Schema("acme_benefits"), 7)
	if err != nil {
		t.Fatalf("GetOrCreateConversationID: %v", err)
	}
	for i := 1; i <= 4; i++ {
		if err := repo.AppendTurn(ctx, convID, userTurn(fmt.Sprintf("t%d", i), fmt.Sprintf("message %d", i))); err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
	}

	// t1 was trimmed; the list now holds t3, t4.
	if err := repo.MarkTurnEscalated(ctx, convID, "t1"); err != nil {
		t.Fatalf("MarkTurnEscalated on a trimmed turn: %v", err)
	}

	turns, err := repo.ReadHistory(ctx, convID, 0, 7)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	for _, turn := range turns {
		if turn.Escalated {
			t.Errorf("turn %s was flagged in place of the trimmed one", turn.ID)
		}
	}
}

func TestMarkTurnResolvedSetsFlag(t *testing.T) {
	repo, _ := newTestConvRepo(t, 10)
	ctx := context.Background()

	convID, err := repo.GetOrCreateConversationID(ctx, tenant.Schema("acme_benefits"), 7)
	if err != nil {
		t.Fatalf("GetOrCreateConversationID: %v", err)
	}
	assistant := model.Turn{ID: "a1", Role: model.RoleAssistant, Content: "Let me check with our support team.", Timestamp: time.Now().UTC(), Confidence: 0.3}
	if err := repo.AppendTurn(ctx, convID, assistant); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	if err := repo.MarkTurnEscalated(ctx, convID, "a1"); err != nil {
		t.Fatalf("MarkTurnEscalated: %v", err)
	}
	if err := repo.MarkTurnResolved(ctx, convID, "a1"); err != nil {
		t.Fatalf("MarkTurnResolved: %v", err)
	}

	turns, err := repo.ReadHistory(ctx, convID, 0, 7)
	if err != nil {
		t.Fatalf("ReadHistory: %v", err)
	}
	if len(turns) != 1 || !turns[0].Escalated || !turns[0].EscalationResolved {
		t.Errorf("turn = %+v, want both escalation flags set", turns[0])
	}
	if turns[0].Role != model.RoleAssistant || turns[0].Confidence != 0.3 {
		t.Errorf("turn = %+v, flagging must not disturb the other fields", turns[0])
	}
}
