package agent

import (
	"regexp"
	"strings"
)

// completionClaims are words the model uses when it pretends an action
// happened. They only matter when no tool actually ran this turn.
var completionClaims = []string{
	"booked", "confirmed", "scheduled", "reserved", "cancelled", "canceled",
	"registered", "submitted", "processed", "completed your",
	"i have sent", "i've sent", "has been created", "has been updated",
	"reservado", "confirmado", "agendado", "gebucht", "bestätigt",
}

// simulationPhrases are tells that the model is narrating a tool call
// instead of making one.
var simulationPhrases = []string{
	"i will now use the tool", "simulating", "pretend", "as if i had",
	"let's assume the booking", "imagine the system",
}

// actionRequestPatterns match user messages that ask for a concrete
// action a tool would perform.
var actionRequestPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(book|reserve|schedule|cancel|order|register|sign (me )?up)\b`),
	regexp.MustCompile(`(?i)\b(make|get) (me )?(a|an|the) (booking|reservation|appointment|table|order)\b`),
	regexp.MustCompile(`(?i)\b(reservar?|agendar?|cancelar?|buchen|stornieren|reservieren)\b`),
}

// CorrectiveReminder is injected as a system message when a hallucinated
// action claim is detected, forcing one retry in the proper call format.
const CorrectiveReminder = "You claimed an action was completed but no tool was called. Never state that an action is done unless a tool result confirms it. If the user asked for an action, call the appropriate tool now using the proper call format."

// IsActionRequest reports whether the user's message asks for something
// a tool performs.
func IsActionRequest(message string) bool {
	for _, pattern := range actionRequestPatterns {
		if pattern.MatchString(message) {
			return true
		}
	}
	return false
}

// IsHallucinatedAction reports whether a response claims completion of
// an action in a turn where no tool ran and the user asked for one.
func IsHallucinatedAction(response, userMessage string, toolsRan bool) bool {
	if toolsRan || response == "" {
		return false
	}
	if !IsActionRequest(userMessage) {
		return false
	}

	lower := strings.ToLower(response)
	for _, claim := range completionClaims {
		if strings.Contains(lower, claim) {
			return true
		}
	}
	for _, phrase := range simulationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
