package agent

import (
	"context"
	"fmt"
	"time"

	"homeoclinic-agent/internal/consultation"
)

// ChatSession is the live conversation handle with the doctor model. It has
// two states: absent (no history) and active (history seeded with the
// persona preamble). The remote side keeps no state between calls, so the
// handle owns the history and ships it whole on every turn.
type ChatSession struct {
	backend Backend
	persona Persona
	timeout time.Duration
	history []consultation.Message
}

func NewChatSession(backend Backend, persona Persona, timeout time.Duration) *ChatSession {
	return &ChatSession{
		backend: backend,
		persona: persona,
		timeout: timeout,
	}
}

func (c *ChatSession) Active() bool {
	return c.history != nil
}

// EnsureActive seeds a fresh handle with the persona instruction and its
// simulated acknowledgement. Idempotent: an active handle is left alone, so
// only one priming pair ever exists.
func (c *ChatSession) EnsureActive(ctx context.Context) {
	if c.Active() {
		return
	}
	c.history = []consultation.Message{
		{Role: consultation.RoleUser, Content: c.persona.Instruction},
		{Role: consultation.RoleAssistant, Content: c.persona.Acknowledgement},
	}
}

// Send forwards text as the next turn and returns the doctor's reply. A
// transport failure never escapes: the error detail comes back as an
// apologetic reply and the conversation history is left exactly as it was.
func (c *ChatSession) Send(ctx context.Context, text string) string {
	c.EnsureActive(ctx)
	reply, err := c.send(ctx, text)
	if err != nil {
		return fmt.Sprintf("I apologize, but I encountered an error: %v. Please try again.", err)
	}
	return reply
}

func (c *ChatSession) send(ctx context.Context, text string) (string, error) {
	messages := make([]consultation.Message, len(c.history), len(c.history)+1)
	copy(messages, c.history)
	messages = append(messages, consultation.Message{Role: consultation.RoleUser, Content: text})

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.backend.Complete(ctx, messages)
	if err != nil {
		return "", err
	}

	c.history = append(c.history,
		consultation.Message{Role: consultation.RoleUser, Content: text},
		consultation.Message{Role: consultation.RoleAssistant, Content: reply},
	)
	return reply, nil
}

// Reset discards the handle. The next EnsureActive starts from a clean
// persona preamble, so no context bleeds between sessions.
func (c *ChatSession) Reset() {
	c.history = nil
}

// RestoreFrom rebuilds model-side context from a persisted transcript by
// replaying its user turns in order and discarding the replies. Assistant
// messages are not replayed; the model reconstructs its side by answering
// again, which is an approximation. A failed replay is skipped, not fatal,
// and every outcome lands in the report. No-op on an active handle or an
// empty transcript.
func (c *ChatSession) RestoreFrom(ctx context.Context, transcript []consultation.Message) consultation.RestoreReport {
	var report consultation.RestoreReport
	if c.Active() || len(transcript) == 0 {
		return report
	}
	c.EnsureActive(ctx)

	for i, m := range transcript {
		if m.Role != consultation.RoleUser {
			continue
		}
		report.Attempted++
		if _, err := c.send(ctx, m.Content); err != nil {
			report.Failures = append(report.Failures, consultation.RestoreFailure{Index: i, Reason: err.Error()})
			continue
		}
		report.Replayed++
	}
	return report
}
