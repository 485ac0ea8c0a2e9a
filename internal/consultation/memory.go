package consultation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepo is an in-memory Repository. It backs the test suite and serves
// as the degraded mode when the database is unreachable at startup.
type memoryRepo struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	consultations []Consultation
}

func NewMemoryRepository() Repository {
	return &memoryRepo{sessions: make(map[string]*Session)}
}

func (r *memoryRepo) SaveSession(ctx context.Context, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.LastUpdated = time.Now()
	s.MessageCount = s.Transcript.Len()
	r.sessions[s.ID] = copySession(s)
	return nil
}

func (r *memoryRepo) LoadSession(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(s), nil
}

func (r *memoryRepo) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var summaries []SessionSummary
	for _, s := range r.sessions {
		summaries = append(summaries, SessionSummary{
			SessionID:    s.ID,
			MessageCount: s.MessageCount,
			LastUpdated:  s.LastUpdated,
		})
	}
	return summaries, nil
}

func (r *memoryRepo) AllSessions(ctx context.Context) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []Session
	for _, s := range r.sessions {
		sessions = append(sessions, *copySession(s))
	}
	return sessions, nil
}

func (r *memoryRepo) SaveConsultation(ctx context.Context, c *Consultation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	stored := *c
	stored.Messages = append([]Message(nil), c.Messages...)
	r.consultations = append(r.consultations, stored)
	return nil
}

func (r *memoryRepo) ListConsultations(ctx context.Context) ([]Consultation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]Consultation(nil), r.consultations...), nil
}

func (r *memoryRepo) WipeAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[string]*Session)
	r.consultations = nil
	return nil
}

func copySession(s *Session) *Session {
	out := &Session{
		ID:           s.ID,
		Transcript:   NewTranscript(s.Transcript.All()...),
		LastUpdated:  s.LastUpdated,
		MessageCount: s.MessageCount,
	}
	out.PatientInfo = make(map[string]string, len(s.PatientInfo))
	for k, v := range s.PatientInfo {
		out.PatientInfo[k] = v
	}
	out.SymptomsCollected = append([]string{}, s.SymptomsCollected...)
	if s.CurrentPrescription != nil {
		p := *s.CurrentPrescription
		out.CurrentPrescription = &p
	}
	return out
}
