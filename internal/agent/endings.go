package agent

import (
	"math/rand"
	"strings"
)

var defaultStrongEndPhrases = []string{
	"goodbye", "bye", "adiós", "adios", "hasta luego", "auf wiedersehen",
	"tschüss", "that's all", "that is all", "we're done", "end conversation",
}

var defaultWeakEndPhrases = []string{
	"thanks", "thank you", "gracias", "danke", "ok thanks", "ok thank you",
	"perfect thanks", "great thanks",
}

var defaultClosingMessages = []string{
	"Thanks for chatting with us. Have a great day!",
	"Glad I could help. Take care!",
	"You're welcome! We're here whenever you need us.",
}

// EndDetector decides whether a user message explicitly closes the
// conversation. Strong phrases match exactly or as the message suffix;
// weak phrases like "thanks" only match the whole message, so "thanks
// for explaining that" keeps the conversation open.
type EndDetector struct {
	strong   []string
	weak     []string
	closings []string
	rand     *rand.Rand
}

func NewEndDetector(strong, weak, closings []string, rng *rand.Rand) *EndDetector {
	if len(strong) == 0 {
		strong = defaultStrongEndPhrases
	}
	if len(weak) == 0 {
		weak = defaultWeakEndPhrases
	}
	if len(closings) == 0 {
		closings = defaultClosingMessages
	}
	return &EndDetector{strong: strong, weak: weak, closings: closings, rand: rng}
}

// IsEnd reports whether message signals the conversation is over.
func (d *EndDetector) IsEnd(message string) bool {
	normalized := normalizePhrase(message)
	if normalized == "" {
		return false
	}

	for _, phrase := range d.strong {
		p := normalizePhrase(phrase)
		if normalized == p || strings.HasSuffix(normalized, " "+p) {
			return true
		}
	}
	for _, phrase := range d.weak {
		if normalized == normalizePhrase(phrase) {
			return true
		}
	}
	return false
}

// Closing returns a randomly selected closing message.
func (d *EndDetector) Closing() string {
	if d.rand != nil {
		return d.closings[d.rand.Intn(len(d.closings))]
	}
	return d.closings[rand.Intn(len(d.closings))]
}

func normalizePhrase(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".,!?¡¿ ")
	return strings.Join(strings.Fields(s), " ")
}
