// Package escalation decides whether a conversation should be handed to
// a human. Detection is advisory: callers fire it after responding and
// swallow failures.
package escalation

import (
	"context"
	"strings"

	"github.com/haasonsaas/concierge/internal/observability"
	"github.com/haasonsaas/concierge/internal/storage"
	"github.com/haasonsaas/concierge/pkg/models"
)

// Reason classifies why an escalation fired.
type Reason string

const (
	ReasonExplicitRequest Reason = "explicit_request"
	ReasonRepeatedConfusion Reason = "repeated_confusion"
)

// Escalation is a recommendation to hand off, not a state change.
type Escalation struct {
	ConversationID string
	Reason         Reason
	TriggeredBy    string
}

// Config carries the tunable heuristics. Thresholds are heuristic, not
// load-bearing: tune per deployment.
type Config struct {
	// ClarificationWindow is how many recent assistant messages to
	// inspect; ClarificationThreshold is how many of them must be
	// clarification requests before escalating.
	ClarificationWindow    int
	ClarificationThreshold int
}

// humanRequestPhrases trigger an explicit-request escalation when the
// user's message contains one. Grouped by language tag.
var humanRequestPhrases = map[string][]string{
	"en": {
		"speak to a human", "talk to a human", "speak to a person",
		"talk to someone", "real person", "human agent", "speak to an agent",
		"talk to an agent", "customer service", "speak with someone",
	},
	"es": {
		"hablar con una persona", "hablar con alguien", "hablar con un humano",
		"atención al cliente", "hablar con un agente", "una persona real",
	},
	"de": {
		"mit einem menschen sprechen", "mit jemandem sprechen",
		"echten menschen", "kundendienst", "mit einem mitarbeiter sprechen",
	},
}

// clarificationMarkers identify assistant messages that are asking the
// user to clarify or repeat.
var clarificationMarkers = []string{
	"could you clarify", "i'm not sure i understand", "i am not sure i understand",
	"could you rephrase", "what do you mean", "can you be more specific",
	"i didn't understand", "no entiendo", "podrías aclarar", "könnten sie das klären",
}

// Detector implements the heuristic.
type Detector struct {
	messages storage.MessageStore
	logger   *observability.Logger
	metrics  *observability.Metrics
	config   Config
}

func NewDetector(messages storage.MessageStore, logger *observability.Logger, metrics *observability.Metrics, config Config) *Detector {
	if config.ClarificationWindow <= 0 {
		config.ClarificationWindow = 3
	}
	if config.ClarificationThreshold <= 0 {
		config.ClarificationThreshold = 2
	}
	return &Detector{messages: messages, logger: logger, metrics: metrics, config: config}
}

// AutoDetect returns an escalation recommendation or nil. Errors reading
// history degrade to the phrase check alone.
func (d *Detector) AutoDetect(ctx context.Context, conversationID, message, language string) *Escalation {
	lower := strings.ToLower(message)

	for _, phrase := range phrasesFor(language) {
		if strings.Contains(lower, phrase) {
			d.observe(ReasonExplicitRequest)
			return &Escalation{
				ConversationID: conversationID,
				Reason:         ReasonExplicitRequest,
				TriggeredBy:    phrase,
			}
		}
	}

	if d.repeatedConfusion(ctx, conversationID) {
		d.observe(ReasonRepeatedConfusion)
		return &Escalation{
			ConversationID: conversationID,
			Reason:         ReasonRepeatedConfusion,
		}
	}
	return nil
}

// repeatedConfusion fires when enough of the last few assistant messages
// were clarification requests.
func (d *Detector) repeatedConfusion(ctx context.Context, conversationID string) bool {
	history, err := d.messages.List(ctx, conversationID, d.config.ClarificationWindow*4)
	if err != nil {
		d.logger.Warn(ctx, "escalation history read failed", "conversation_id", conversationID, "error", err)
		return false
	}

	var inspected, confused int
	for i := len(history) - 1; i >= 0 && inspected < d.config.ClarificationWindow; i-- {
		msg := history[i]
		if msg.Role != models.RoleAssistant {
			continue
		}
		inspected++
		if isClarification(msg.Content) {
			confused++
		}
	}
	return confused >= d.config.ClarificationThreshold
}

func isClarification(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range clarificationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func phrasesFor(language string) []string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if i := strings.Index(lang, "-"); i > 0 {
		lang = lang[:i]
	}
	phrases, ok := humanRequestPhrases[lang]
	if !ok {
		return humanRequestPhrases["en"]
	}
	// English phrasing shows up regardless of the configured language.
	if lang != "en" {
		return append(append([]string{}, phrases...), humanRequestPhrases["en"]...)
	}
	return phrases
}

func (d *Detector) observe(reason Reason) {
	if d.metrics != nil {
		d.metrics.RecordEscalation(string(reason))
	}
}
