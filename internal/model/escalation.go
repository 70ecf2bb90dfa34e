package model

import "time"

// MatchStatus is the scorer's tier for one retrieval round.
type MatchStatus string

const (
	MatchNoKnowledge MatchStatus = "no_knowledge"
	MatchPoor        MatchStatus = "poor_match"
	MatchPartial     MatchStatus = "partial_match"
	MatchGood        MatchStatus = "good_match"
)

// MatchVerdict is the scorer's structured judgement of retrieval quality.
// Ephemeral: computed fresh per query, never persisted or cached.
type MatchVerdict struct {
	HasKnowledge      bool        `json:"hasKnowledge"`
	MatchCount        int         `json:"matchCount"`
	BestSimilarity    float64     `json:"bestSimilarity"`
	AverageSimilarity float64     `json:"averageSimilarity"`
	Status            MatchStatus `json:"status"`
}

// Escalation states. pending → resolved and pending → skipped are the only
// transitions; both are terminal.
const (
	EscalationPending  = "pending"
	EscalationResolved = "resolved"
	EscalationSkipped  = "skipped"
)

// Escalation is a pending-or-resolved request for human judgement, created
// exactly once per escalating turn and mutated exactly once on resolution.
type Escalation struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	TenantSchema     string     `gorm:"size:64;index;not null" json:"tenantSchema"`
	ConversationID   string     `gorm:"size:64;index;not null" json:"conversationId"`
	TurnID           string     `gorm:"size:36;not null" json:"turnId"`
	MemberID         uint       `gorm:"index;not null" json:"memberId"`
	Query            string     `gorm:"type:text;not null" json:"query"`
	AttemptedAnswer  string     `gorm:"type:text" json:"attemptedAnswer"`
	VerdictStatus    string     `gorm:"size:32" json:"verdictStatus"`
	BestSimilarity   float64    `json:"bestSimilarity"`
	ExtractedContact string     `gorm:"size:512" json:"extractedContact"`
	Status           string     `gorm:"size:16;index;default:pending" json:"status"`
	Resolution       string     `gorm:"type:text" json:"resolution"`
	ResolvedBy       string     `gorm:"size:255" json:"resolvedBy"`
	ResolvedAt       *time.Time `json:"resolvedAt"`
	AddedToKnowledge bool       `json:"addedToKnowledge"`
	NotifyMessageID  string     `gorm:"size:64" json:"notifyMessageId"`
	DedupeKey        string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

func (Escalation) TableName() string {
	return "escalations"
}

// ReviewerActionKind classifies a reviewer reply.
type ReviewerActionKind int

const (
	// ActionConfirm stores the originally generated answer as knowledge.
	ActionConfirm ReviewerActionKind = iota
	// ActionSkip marks the escalation skipped without a knowledge write.
	ActionSkip
	// ActionCustom stores the reviewer's own text as knowledge.
	ActionCustom
)

// ReviewerAction is the tagged variant produced by reply classification and
// consumed exhaustively by the resolution handler.
type ReviewerAction struct {
	Kind ReviewerActionKind
	Text string
}
