package consultation

import "encoding/json"

// Transcript is the append-only ordered message log of one session.
// Insertion order is the conversation order; it is what gets replayed to
// rebuild model context, so messages are never reordered or mutated.
type Transcript struct {
	messages []Message
}

func NewTranscript(messages ...Message) *Transcript {
	t := &Transcript{}
	t.messages = append(t.messages, messages...)
	return t
}

func (t *Transcript) Append(m Message) {
	t.messages = append(t.messages, m)
}

// All returns a copy of the log so callers cannot rewrite history in place.
func (t *Transcript) All() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	return len(t.messages)
}

// Serialized as a plain message array, matching the persisted session shape.
func (t *Transcript) MarshalJSON() ([]byte, error) {
	if t == nil || t.messages == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t.messages)
}

func (t *Transcript) UnmarshalJSON(data []byte) error {
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return err
	}
	t.messages = messages
	return nil
}
