package service

import (
	"context"
	"fmt"
	"strings"

	"aibot-go/internal/config"
	"aibot-go/internal/model"
	"aibot-go/pkg/llm"
)

// Built-in prompt defaults, overridable via llm.prompt config.
const (
	defaultEscalationPhrase = "Let me check with our support team and get back to you shortly."
	defaultRefusalPhrase    = "I can only assist with your own membership information."
	defaultRefStart         = "<<KNOWLEDGE>>"
	defaultRefEnd           = "<<END>>"
	defaultNoResultText     = "(no knowledge retrieved for this question)"
)

const defaultRules = `You are a benefits helpdesk assistant. Answer strictly from the knowledge ` +
	`provided between the knowledge markers and from the member profile supplied below. ` +
	`Never invent coverage details, amounts or dates. Never disclose any other member's ` +
	`information; if asked about another member, reply exactly: "%s". ` +
	`If the knowledge provided cannot ground an answer, reply exactly: "%s". ` +
	`Always re-read your own immediately preceding message: if you asked the member for ` +
	`contact details, a bare phone number or email in their reply is that contact ` +
	`information — acknowledge it, thank them, and confirm the team will follow up; do ` +
	`not ask for more context.`

// maxSnippetLen bounds each knowledge snippet placed into the prompt.
const maxSnippetLen = 1000

// AnswerInput carries everything the generator grounds an answer on.
type AnswerInput struct {
	Query           string
	Knowledge       []model.KnowledgeSearchResult
	Member          *model.Member
	History         []model.Turn
	ContactFollowUp bool
}

// AnswerResult is the generated answer with its derived confidence.
type AnswerResult struct {
	Text       string
	Confidence float64
	Sources    []string
	Truncated  bool
}

// AnswerService composes the grounded prompt, calls the completion service and
// derives a confidence estimate from the output.
type AnswerService interface {
	Generate(ctx context.Context, in AnswerInput) (*AnswerResult, error)
	// GenerateStream streams chunks into writer while accumulating the full
	// answer for scoring and persistence.
	GenerateStream(ctx context.Context, in AnswerInput, writer llm.MessageWriter) (*AnswerResult, error)
	EscalationPhrase() string
	RefusalPhrase() string
}

type answerService struct {
	llmClient       llm.Client
	promptCfg       config.LLMPromptConfig
	maxContextTurns int
}

// NewAnswerService creates an AnswerService.
func NewAnswerService(llmClient llm.Client, llmCfg config.LLMConfig, convCfg config.ConversationConfig) AnswerService {
	return &answerService{
		llmClient:       llmClient,
		promptCfg:       llmCfg.Prompt,
		maxContextTurns: convCfg.MaxContextTurns,
	}
}

func (s *answerService) EscalationPhrase() string {
	if s.promptCfg.EscalationPhrase != "" {
		return s.promptCfg.EscalationPhrase
	}
	return defaultEscalationPhrase
}

func (s *answerService) RefusalPhrase() string {
	if s.promptCfg.RefusalPhrase != "" {
		return s.promptCfg.RefusalPhrase
	}
	return defaultRefusalPhrase
}

// Generate produces the grounded answer. It is a pure function of its inputs
// plus one external LLM call; transport failures propagate as retryable
// errors from the client.
func (s *answerService) Generate(ctx context.Context, in AnswerInput) (*AnswerResult, error) {
	messages := s.composeMessages(in)

	completion, err := s.llmClient.Complete(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	truncated := completion.FinishReason == llm.FinishLength
	sources := make([]string, 0, len(in.Knowledge))
	for _, k := range in.Knowledge {
		sources = append(sources, k.ID)
	}

	return &AnswerResult{
		Text:       completion.Content,
		Confidence: s.deriveConfidence(completion.Content, in, truncated),
		Sources:    sources,
		Truncated:  truncated,
	}, nil
}

// capturingWriter tees streamed chunks to the caller's writer while keeping
// the full text for confidence derivation.
type capturingWriter struct {
	inner llm.MessageWriter
	buf   strings.Builder
}

func (w *capturingWriter) WriteMessage(messageType int, data []byte) error {
	w.buf.Write(data)
	return w.inner.WriteMessage(messageType, data)
}

// GenerateStream is the streaming counterpart of Generate. Truncation is not
// observable on the streamed path, so no length penalty applies.
func (s *answerService) GenerateStream(ctx context.Context, in AnswerInput, writer llm.MessageWriter) (*AnswerResult, error) {
	messages := s.composeMessages(in)

	capture := &capturingWriter{inner: writer}
	if err := s.llmClient.StreamChatMessages(ctx, messages, nil, capture); err != nil {
		return nil, fmt.Errorf("failed to stream answer: %w", err)
	}

	answer := capture.buf.String()
	sources := make([]string, 0, len(in.Knowledge))
	for _, k := range in.Knowledge {
		sources = append(sources, k.ID)
	}
	return &AnswerResult{
		Text:       answer,
		Confidence: s.deriveConfidence(answer, in, false),
		Sources:    sources,
	}, nil
}

func (s *answerService) composeMessages(in AnswerInput) []llm.Message {
	history := in.History
	if len(history) > s.maxContextTurns {
		history = history[len(history)-s.maxContextTurns:]
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: s.buildSystemMessage(in)})
	for _, t := range history {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: model.RoleUser, Content: in.Query})
	return msgs
}

func (s *answerService) buildSystemMessage(in AnswerInput) string {
	rules := s.promptCfg.Rules
	if rules == "" {
		rules = fmt.Sprintf(defaultRules, s.RefusalPhrase(), s.EscalationPhrase())
	}
	refStart := s.promptCfg.RefStart
	if refStart == "" {
		refStart = defaultRefStart
	}
	refEnd := s.promptCfg.RefEnd
	if refEnd == "" {
		refEnd = defaultRefEnd
	}

	var sys strings.Builder
	sys.WriteString(rules)
	sys.WriteString("\n\n")

	if in.Member != nil {
		sys.WriteString("Member profile (the only member you may discuss):\n")
		sys.WriteString(fmt.Sprintf("- Name: %s\n- Plan tier: %s\n- Company: %s\n\n",
			in.Member.FullName, in.Member.PlanTier, in.Member.Company))
	}

	if in.ContactFollowUp {
		sys.WriteString("The member's latest message is contact information you asked for. " +
			"Acknowledge and thank them; do not treat it as a new question.\n\n")
	}

	sys.WriteString(refStart)
	sys.WriteString("\n")
	if len(in.Knowledge) > 0 {
		sys.WriteString(s.buildContextText(in.Knowledge))
	} else {
		noRes := s.promptCfg.NoResultText
		if noRes == "" {
			noRes = defaultNoResultText
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (s *answerService) buildContextText(results []model.KnowledgeSearchResult) string {
	var contextBuilder strings.Builder
	for i, r := range results {
		snippet := r.Content
		if len(snippet) > maxSnippetLen {
			snippet = snippet[:maxSnippetLen] + "…"
		}
		contextBuilder.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, r.Title, snippet))
	}
	return contextBuilder.String()
}

// uncertaintyMarkers cap confidence regardless of retrieval quality.
var uncertaintyMarkers = []string{
	"not sure",
	"cannot answer",
	"can't answer",
	"don't have that information",
}

var contactAckMarkers = []string{"thank", "noted", "reach out", "follow up"}

// deriveConfidence implements the fixed derivation: 0.5 base, up to +0.3 from
// mean source similarity, capped at 0.5 on uncertainty markers, floored at
// 0.75 on acknowledged contact info, scaled by 0.9 when truncated.
func (s *answerService) deriveConfidence(answer string, in AnswerInput, truncated bool) float64 {
	confidence := 0.5

	if len(in.Knowledge) > 0 {
		var sum float64
		for _, k := range in.Knowledge {
			sum += k.Similarity
		}
		mean := sum / float64(len(in.Knowledge))
		if mean > 1 {
			mean = 1
		}
		if mean > 0 {
			confidence += 0.3 * mean
		}
	}

	lower := strings.ToLower(answer)
	uncertain := strings.Contains(lower, strings.ToLower(s.EscalationPhrase()))
	for _, marker := range uncertaintyMarkers {
		if strings.Contains(lower, marker) {
			uncertain = true
			break
		}
	}
	if uncertain && confidence > 0.5 {
		confidence = 0.5
	}

	if in.ContactFollowUp && !uncertain {
		for _, marker := range contactAckMarkers {
			if strings.Contains(lower, marker) {
				if confidence < 0.75 {
					confidence = 0.75
				}
				break
			}
		}
	}

	if truncated {
		confidence *= 0.9
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
