package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/internal/storage"
	"github.com/haasonsaas/concierge/pkg/models"
)

func newDetector(t *testing.T) (*Detector, storage.MessageStore) {
	t.Helper()
	stores := storage.NewMemoryStores()
	d := NewDetector(stores.Messages, observability.NewNopLogger(), nil, Config{})
	return d, stores.Messages
}

func appendAssistant(t *testing.T, store storage.MessageStore, conversationID, content string, at time.Time) {
	t.Helper()
	err := store.Append(context.Background(), &models.Message{
		ID:             content[:min(8, len(content))] + at.String(),
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        content,
		CreatedAt:      at,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAutoDetectExplicitRequest(t *testing.T) {
	d, _ := newDetector(t)
	ctx := context.Background()

	t.Run("english", func(t *testing.T) {
		esc := d.AutoDetect(ctx, "conv-1", "I want to speak to a human please", "en")
		if esc == nil || esc.Reason != ReasonExplicitRequest {
			t.Fatalf("esc = %+v", esc)
		}
	})

	t.Run("spanish", func(t *testing.T) {
		esc := d.AutoDetect(ctx, "conv-1", "Quiero hablar con una persona", "es")
		if esc == nil || esc.Reason != ReasonExplicitRequest {
			t.Fatalf("esc = %+v", esc)
		}
	})

	t.Run("english phrase under spanish config", func(t *testing.T) {
		if esc := d.AutoDetect(ctx, "conv-1", "can I talk to a human agent?", "es"); esc == nil {
			t.Fatal("expected escalation")
		}
	})

	t.Run("region tag stripped", func(t *testing.T) {
		if esc := d.AutoDetect(ctx, "conv-1", "kundendienst bitte", "de-AT"); esc == nil {
			t.Fatal("expected escalation")
		}
	})

	t.Run("ordinary message does not escalate", func(t *testing.T) {
		if esc := d.AutoDetect(ctx, "conv-1", "what time do you open tomorrow?", "en"); esc != nil {
			t.Fatalf("esc = %+v", esc)
		}
	})
}

func TestAutoDetectRepeatedConfusion(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("two of last three clarifications escalate", func(t *testing.T) {
		d, msgs := newDetector(t)
		appendAssistant(t, msgs, "conv-1", "Could you clarify what you mean?", now)
		appendAssistant(t, msgs, "conv-1", "Sure, we open at nine.", now.Add(time.Second))
		appendAssistant(t, msgs, "conv-1", "I'm not sure I understand, could you rephrase?", now.Add(2*time.Second))

		esc := d.AutoDetect(ctx, "conv-1", "ugh nevermind", "en")
		if esc == nil || esc.Reason != ReasonRepeatedConfusion {
			t.Fatalf("esc = %+v", esc)
		}
	})

	t.Run("one clarification is not enough", func(t *testing.T) {
		d, msgs := newDetector(t)
		appendAssistant(t, msgs, "conv-2", "Could you clarify what you mean?", now)
		appendAssistant(t, msgs, "conv-2", "We open at nine.", now.Add(time.Second))
		appendAssistant(t, msgs, "conv-2", "Booked for two people.", now.Add(2*time.Second))

		if esc := d.AutoDetect(ctx, "conv-2", "ok", "en"); esc != nil {
			t.Fatalf("esc = %+v", esc)
		}
	})

	t.Run("old clarifications outside the window ignored", func(t *testing.T) {
		d, msgs := newDetector(t)
		appendAssistant(t, msgs, "conv-3", "Could you clarify?", now)
		appendAssistant(t, msgs, "conv-3", "Could you rephrase that?", now.Add(time.Second))
		appendAssistant(t, msgs, "conv-3", "Great, booked.", now.Add(2*time.Second))
		appendAssistant(t, msgs, "conv-3", "Anything else?", now.Add(3*time.Second))
		appendAssistant(t, msgs, "conv-3", "See you then.", now.Add(4*time.Second))

		if esc := d.AutoDetect(ctx, "conv-3", "thanks a lot", "en"); esc != nil {
			t.Fatalf("esc = %+v", esc)
		}
	})
}
