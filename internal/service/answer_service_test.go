package service

import (
	"context"
	"math"
	"strings"
	"testing"

	"aibot-go/internal/config"
	"aibot-go/internal/model"
	"aibot-go/pkg/llm"
)

func newTestAnswerService(client llm.Client) AnswerService {
	return NewAnswerService(client, config.LLMConfig{}, config.ConversationConfig{MaxContextTurns: 10})
}

func knowledge(similarities ...float64) []model.KnowledgeSearchResult {
	out := make([]model.KnowledgeSearchResult, 0, len(similarities))
	for i, s := range similarities {
		out = append(out, model.KnowledgeSearchResult{
			ID:         string(rune('k')) + string(rune('0'+i)),
			Title:      "Dental coverage",
			Content:    "Dental cleanings are covered twice a year.",
			Similarity: s,
		})
	}
	return out
}

func TestGenerateConfidenceFromSimilarity(t *testing.T) {
	client := &fakeLLM{content: "Cleanings are covered twice a year."}
	svc := newTestAnswerService(client)

	res, err := svc.Generate(context.Background(), AnswerInput{
		Query:     "is dental covered?",
		Knowledge: knowledge(0.8, 0.6),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// 0.5 base + 0.3 * mean(0.8, 0.6)
	want := 0.5 + 0.3*0.7
	if math.Abs(res.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %f, want %f", res.Confidence, want)
	}
	if len(res.Sources) != 2 {
		t.Errorf("sources = %v, want the two knowledge ids", res.Sources)
	}
}

func TestGenerateConfidenceCappedOnUncertainty(t *testing.T) {
	client := &fakeLLM{content: "I'm not sure about that, it may depend on your plan."}
	svc := newTestAnswerService(client)

	res, err := svc.Generate(context.Background(), AnswerInput{
		Query:     "is acupuncture covered?",
		Knowledge: knowledge(0.9, 0.9),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Confidence > 0.5 {
		t.Errorf("confidence = %f, uncertain answers must cap at 0.5", res.Confidence)
	}
}

func TestGenerateConfidenceCappedOnEscalationPhrase(t *testing.T) {
	svc := newTestAnswerService(&fakeLLM{content: "stub"})
	client := &fakeLLM{content: svc.EscalationPhrase()}
	svc = newTestAnswerService(client)

	res, err := svc.Generate(context.Background(), AnswerInput{
		Query:     "obscure question",
		Knowledge: knowledge(0.9),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Confidence > 0.5 {
		t.Errorf("confidence = %f, escalation phrase must cap at 0.5", res.Confidence)
	}
}

func TestGenerateConfidenceBoostOnContactAck(t *testing.T) {
	client := &fakeLLM{content: "Thank you! We've noted your contact number 88399967 and our team will reach out."}
	svc := newTestAnswerService(client)

	res, err := svc.Generate(context.Background(), AnswerInput{
		Query:           "88399967",
		ContactFollowUp: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Confidence < 0.75 {
		t.Errorf("confidence = %f, contact acknowledgement must boost to at least 0.75", res.Confidence)
	}
}

func TestGenerateConfidencePenalizedOnTruncation(t *testing.T) {
	client := &fakeLLM{content: "Your plan covers", finishReason: llm.FinishLength}
	svc := newTestAnswerService(client)

	res, err := svc.Generate(context.Background(), AnswerInput{
		Query:     "coverage?",
		Knowledge: knowledge(1.0),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.Truncated {
		t.Fatal("finish reason length must mark the result truncated")
	}
	want := (0.5 + 0.3) * 0.9
	if math.Abs(res.Confidence-want) > 1e-9 {
		t.Errorf("confidence = %f, want %f", res.Confidence, want)
	}
}

func TestGeneratePromptContainsKnowledgeAndProfile(t *testing.T) {
	client := &fakeLLM{content: "answer"}
	svc := newTestAnswerService(client)

	_, err := svc.Generate(context.Background(), AnswerInput{
		Query:     "is dental covered?",
		Knowledge: knowledge(0.8),
		Member:    &model.Member{FullName: "Dana Lee", PlanTier: "Gold", Company: "Acme"},
		History: []model.Turn{
			{Role: model.RoleUser, Content: "hello"},
			{Role: model.RoleAssistant, Content: "hi, how can I help?"},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(client.gotMessages) != 4 {
		t.Fatalf("messages = %d, want system + 2 history + query", len(client.gotMessages))
	}
	sys := client.gotMessages[0]
	if sys.Role != "system" {
		t.Fatalf("first message role = %s, want system", sys.Role)
	}
	for _, fragment := range []string{"Dana Lee", "Gold", "Dental cleanings", "<<KNOWLEDGE>>"} {
		if !strings.Contains(sys.Content, fragment) {
			t.Errorf("system prompt missing %q", fragment)
		}
	}
	if last := client.gotMessages[3]; last.Content != "is dental covered?" {
		t.Errorf("last message = %q, want the query", last.Content)
	}
}

func TestGeneratePromptWithoutKnowledge(t *testing.T) {
	client := &fakeLLM{content: "answer"}
	svc := newTestAnswerService(client)

	_, err := svc.Generate(context.Background(), AnswerInput{Query: "anything"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(client.gotMessages[0].Content, "(no knowledge retrieved for this question)") {
		t.Error("system prompt missing the no-result marker")
	}
}

func TestGenerateStreamAccumulates(t *testing.T) {
	client := &fakeLLM{content: "Cleanings are covered twice a year."}
	svc := newTestAnswerService(client)

	var sink chunkSink
	res, err := svc.GenerateStream(context.Background(), AnswerInput{
		Query:     "is dental covered?",
		Knowledge: knowledge(0.8),
	}, &sink)
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	if res.Text != client.content {
		t.Errorf("accumulated text = %q, want %q", res.Text, client.content)
	}
	if sink.String() != client.content {
		t.Errorf("streamed text = %q, want %q", sink.String(), client.content)
	}
	if res.Confidence <= 0.5 {
		t.Errorf("confidence = %f, want similarity contribution on the streamed path too", res.Confidence)
	}
}

// chunkSink collects streamed chunks.
type chunkSink struct {
	b strings.Builder
}

func (s *chunkSink) WriteMessage(messageType int, data []byte) error {
	s.b.Write(data)
	return nil
}

func (s *chunkSink) String() string { return s.b.String() }
