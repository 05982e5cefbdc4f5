package session

import (
	"strings"
	"unicode"

	"drivethru-orchestrator/internal/conversation/intent"
)

// TurnInput is one customer utterance. Raw, when set, bypasses the language-understanding
// call (the caller already classified the utterance).
type TurnInput struct {
	Text          string      `json:"text"`
	ASRConfidence *float64    `json:"asrConfidence,omitempty"`
	Raw           *intent.Raw `json:"raw,omitempty"`
}

var confusionPhrases = []string{
	"i don't understand", "i dont understand", "i don't know", "i dont know",
	"not sure", "what do you mean", "say that again", "come again",
}

var confusionWords = map[string]bool{
	"what": true, "huh": true, "wait": true, "uh": true, "um": true, "hmm": true,
	"confused": true, "sorry": true, "pardon": true, "eh": true,
}

// isConfusion reports whether the utterance consists only of confusion signals, e.g.
// "huh?", "wait, what" or "sorry, I don't understand".
func isConfusion(text string) bool {
	s := strings.ToLower(text)
	found := false
	for _, p := range confusionPhrases {
		if strings.Contains(s, p) {
			s = strings.ReplaceAll(s, p, " ")
			found = true
		}
	}

	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for _, w := range words {
		if !confusionWords[w] {
			return false
		}
		found = true
	}
	return found
}

// precheck classifies utterances that need no language-understanding call.
func precheck(in TurnInput, minASRConfidence float64) (intent.Unknown, bool) {
	text := strings.TrimSpace(in.Text)
	switch {
	case text == "" && in.Raw == nil:
		return intent.Unknown{Reason: intent.ReasonEmpty}, true
	case in.ASRConfidence != nil && *in.ASRConfidence < minASRConfidence:
		return intent.Unknown{RawText: text, Reason: intent.ReasonLowConfidence}, true
	case text != "" && isConfusion(text):
		return intent.Unknown{RawText: text, Reason: intent.ReasonConfusion}, true
	}
	return intent.Unknown{}, false
}
