package pipeline

import (
	"context"
	"strings"
)

// Prompt is a yes/no question put to the user before a milestone action.
type Prompt struct {
	Key      string `json:"key"`
	Question string `json:"question"`
}

// Confirmer asks the user to accept or decline a prompt.
type Confirmer interface {
	Confirm(ctx context.Context, deal *Deal, p Prompt) (bool, error)
}

// Always is a Confirmer that gives the same answer to every prompt.
type Always bool

// Confirm returns the fixed answer.
func (a Always) Confirm(context.Context, *Deal, Prompt) (bool, error) {
	return bool(a), nil
}

// AnswerSet answers prompts from a prepared set. Answers are looked up by
// prompt key first, then consumed in order from Sequence, and finally fall
// back to Default.
type AnswerSet struct {
	ByKey    map[string]bool
	Sequence []bool
	Default  bool

	next int
}

// Confirm answers p from the set.
func (a *AnswerSet) Confirm(_ context.Context, _ *Deal, p Prompt) (bool, error) {
	if v, ok := a.ByKey[p.Key]; ok {
		return v, nil
	}
	if a.next < len(a.Sequence) {
		v := a.Sequence[a.next]
		a.next++
		return v, nil
	}
	return a.Default, nil
}

// ParseAnswers turns a comma-separated list such as "yes,no" into answers.
// Unrecognized entries count as "no".
func ParseAnswers(s string) []bool {
	var out []bool
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		switch part {
		case "y", "yes", "true", "1", "ja", "j":
			out = append(out, true)
		default:
			out = append(out, false)
		}
	}
	return out
}
