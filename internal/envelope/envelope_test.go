package envelope

import (
	"testing"

	"github.com/greentic-ai/messaging-gateway/internal/card"
)

func TestValidateTextRequiresText(t *testing.T) {
	m := OutMessage{Kind: OutKindText}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error for empty text")
	}
	m.Text = "hi"
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCardRequiresExactlyOne(t *testing.T) {
	m := OutMessage{Kind: OutKindCard}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error when neither card is set")
	}
	m.MessageCard = &card.MessageCard{Title: "hi"}
	m.AdaptiveCard = &card.AdaptiveMessageCard{Title: "hi"}
	if err := m.Validate(); err == nil {
		t.Fatal("expected error when both cards are set")
	}
	m.AdaptiveCard = nil
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
