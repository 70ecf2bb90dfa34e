package service

import (
	"reflect"
	"testing"

	"aibot-go/internal/model"
)

func userTurn(content string) model.Turn {
	return model.Turn{Role: model.RoleUser, Content: content}
}

func assistantTurn(content string) model.Turn {
	return model.Turn{Role: model.RoleAssistant, Content: content}
}

func TestExtractContacts(t *testing.T) {
	turns := []model.Turn{
		userTurn("my email is John.Doe@Example.COM and my number is 88399967"),
		assistantTurn("you can reach HR at hr@example.com"), // assistant turns ignored
		userTurn("again: john.doe@example.com"),             // deduplicated after lowercasing
		userTurn("alt line +65 8839 9967"),
	}

	got := ExtractContacts(turns)
	want := []string{"john.doe@example.com", "88399967", "+65 8839 9967"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractContacts = %v, want %v", got, want)
	}
}

func TestExtractContactsNone(t *testing.T) {
	turns := []model.Turn{
		userTurn("what does my dental plan cover?"),
		userTurn("claim 12 was filed in March"),
	}
	if got := ExtractContacts(turns); len(got) != 0 {
		t.Errorf("ExtractContacts = %v, want none", got)
	}
}

func TestLooksLikeContactInfo(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"88399967", true},
		{"  +65 8839 9967 ", true},
		{"jane@corp.example", true},
		{"call me at 88399967 tomorrow", false},
		{"what is my copay?", false},
		{"", false},
		{"1234", false},
	}
	for _, tt := range tests {
		if got := LooksLikeContactInfo(tt.text); got != tt.want {
			t.Errorf("LooksLikeContactInfo(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestAssistantSolicitedContact(t *testing.T) {
	tests := []struct {
		name    string
		history []model.Turn
		want    bool
	}{
		{
			"assistant asked for a number",
			[]model.Turn{userTurn("escalate this"), assistantTurn("Could you share a contact number so our team can get back to you?")},
			true,
		},
		{
			"assistant answered normally",
			[]model.Turn{userTurn("copay?"), assistantTurn("Your copay is $20 per visit.")},
			false,
		},
		{
			"solicitation buried behind a newer answer",
			[]model.Turn{
				assistantTurn("please share your phone number"),
				userTurn("actually, another question"),
				assistantTurn("Your deductible is $500."),
			},
			false,
		},
		{"empty history", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AssistantSolicitedContact(tt.history); got != tt.want {
				t.Errorf("AssistantSolicitedContact = %v, want %v", got, tt.want)
			}
		})
	}
}
