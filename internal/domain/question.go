package domain

import (
	"encoding/json"
	"fmt"
)

// QuestionKind discriminates the content variants of a pool question.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple_choice"
	KindOrdering       QuestionKind = "ordering"
	KindMatching       QuestionKind = "matching"
)

// QuestionContent is the kind-specific payload of a pool question.
// Each variant carries only the fields meaningful for its kind, so graders
// and selectors never probe optional fields that may or may not be set.
type QuestionContent interface {
	Kind() QuestionKind
}

// ChoiceOption is a single selectable option of a multiple-choice question.
type ChoiceOption struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// MultipleChoiceContent holds the options of a multiple-choice question.
type MultipleChoiceContent struct {
	Options []ChoiceOption `json:"options"`
}

func (MultipleChoiceContent) Kind() QuestionKind { return KindMultipleChoice }

// OrderingContent holds items the player must arrange; Items is the correct order.
type OrderingContent struct {
	Items []string `json:"items"`
}

func (OrderingContent) Kind() QuestionKind { return KindOrdering }

// MatchPair is one left/right pairing of a matching question.
type MatchPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// MatchingContent holds the correct pairings of a matching question.
type MatchingContent struct {
	Pairs []MatchPair `json:"pairs"`
}

func (MatchingContent) Kind() QuestionKind { return KindMatching }

// QuestionRef is one candidate question from the external pool. The id is
// opaque to the engine; content travels along for graders and clients.
type QuestionRef struct {
	ID      string          `json:"id"`
	Prompt  string          `json:"prompt"`
	Content QuestionContent `json:"-"`
}

type questionEnvelope struct {
	ID      string          `json:"id"`
	Prompt  string          `json:"prompt"`
	Kind    QuestionKind    `json:"kind"`
	Content json.RawMessage `json:"content,omitempty"`
}

// MarshalJSON writes the ref as an envelope keyed by content kind.
func (q QuestionRef) MarshalJSON() ([]byte, error) {
	env := questionEnvelope{ID: q.ID, Prompt: q.Prompt}
	if q.Content != nil {
		env.Kind = q.Content.Kind()
		raw, err := json.Marshal(q.Content)
		if err != nil {
			return nil, err
		}
		env.Content = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON restores the kind-specific content variant from the envelope.
func (q *QuestionRef) UnmarshalJSON(data []byte) error {
	var env questionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	q.ID = env.ID
	q.Prompt = env.Prompt
	q.Content = nil
	if env.Kind == "" {
		return nil
	}
	content, err := ContentFromJSON(env.Kind, env.Content)
	if err != nil {
		return err
	}
	q.Content = content
	return nil
}

// ContentFromJSON decodes a kind-specific content payload. Infrastructure
// loaders use it to rebuild refs from stored rows.
func ContentFromJSON(kind QuestionKind, raw json.RawMessage) (QuestionContent, error) {
	if raw == nil {
		raw = json.RawMessage("{}")
	}
	switch kind {
	case KindMultipleChoice:
		var c MultipleChoiceContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindOrdering:
		var c OrderingContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindMatching:
		var c MatchingContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown question kind %q", kind)
	}
}
