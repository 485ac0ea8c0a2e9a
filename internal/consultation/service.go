package consultation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TurnResult is the outcome of one consultation turn. SaveWarning is set
// when the turn completed but could not be fully persisted; the turn is
// never dropped because of a storage error.
type TurnResult struct {
	Replies           []Message     `json:"replies"`
	PrescriptionReady bool          `json:"prescription_ready"`
	Prescription      *Prescription `json:"prescription,omitempty"`
	SymptomsCollected []string      `json:"symptoms_collected"`
	SaveWarning       string        `json:"save_warning,omitempty"`
}

// addWarning records a persistence warning without losing earlier ones; a
// single turn can fail both the consultation archive and the session save.
func (r *TurnResult) addWarning(w string) {
	if r.SaveWarning != "" {
		r.SaveWarning += "; " + w
		return
	}
	r.SaveWarning = w
}

// DataExport is the full database dump offered for download.
type DataExport struct {
	Sessions      []Session      `json:"sessions"`
	Consultations []Consultation `json:"consultations"`
	ExportDate    time.Time      `json:"export_date"`
}

type Service interface {
	StartSession(ctx context.Context) (*Session, error)
	Chat(ctx context.Context, sessionID, text string) (*TurnResult, error)
	Save(ctx context.Context, sessionID string) error
	NewSession(ctx context.Context, currentID string) (*Session, error)
	LoadSession(ctx context.Context, id string) (*Session, RestoreReport, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	SetPatientInfo(ctx context.Context, id string, info map[string]string) error
	ListSessions(ctx context.Context) ([]SessionSummary, error)
	ListConsultations(ctx context.Context) ([]Consultation, error)
	ExportAll(ctx context.Context) (*DataExport, error)
	WipeAll(ctx context.Context) error
}

// sessionState is the explicit per-session state object: the aggregate, its
// dialogue handle, and a lock serializing turns so at most one is in flight
// per session.
type sessionState struct {
	mu       sync.Mutex
	session  *Session
	dialogue Dialogue
}

type service struct {
	repo        Repository
	newDialogue DialogueFactory

	mu     sync.Mutex
	active map[string]*sessionState
}

func NewService(repo Repository, newDialogue DialogueFactory) Service {
	return &service{
		repo:        repo,
		newDialogue: newDialogue,
		active:      make(map[string]*sessionState),
	}
}

func (s *service) StartSession(ctx context.Context) (*Session, error) {
	sess := NewSession(NewSessionID(time.Now()))
	if err := s.repo.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}

	s.mu.Lock()
	s.active[sess.ID] = &sessionState{session: sess, dialogue: s.newDialogue()}
	s.mu.Unlock()

	return sess, nil
}

// getState returns the live state for id, loading the stored session when
// one exists and creating a fresh aggregate on first use otherwise. The map
// lock is not held across the store read, so a slow load for one session
// never stalls turns on the others.
func (s *service) getState(ctx context.Context, id string) (*sessionState, error) {
	s.mu.Lock()
	if st, ok := s.active[id]; ok {
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	sess, err := s.repo.LoadSession(ctx, id)
	if err == ErrSessionNotFound {
		sess = NewSession(id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.active[id]; ok {
		// Another caller activated the session while we were loading.
		return st, nil
	}
	st := &sessionState{session: sess, dialogue: s.newDialogue()}
	s.active[id] = st
	return st, nil
}

// Chat runs one full consultation turn: record the patient message, collect
// symptom keywords, ask the doctor model, extract a prescription when the
// reply signals one, and persist the session unconditionally at the end.
func (s *service) Chat(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	st, err := s.getState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	sess := st.session

	// A handle that is absent while the transcript is not means we are
	// resuming after a restart or a session switch: rebuild model context
	// before taking the turn.
	if report := st.dialogue.RestoreFrom(ctx, sess.Transcript.All()); report.Attempted > 0 {
		log.Printf("session %s: restored dialogue context, %d/%d turns replayed", sess.ID, report.Replayed, report.Attempted)
	}

	sess.Transcript.Append(Message{Role: RoleUser, Content: text})

	for _, keyword := range DetectSymptoms(text) {
		sess.AddSymptom(keyword)
	}

	reply := st.dialogue.Send(ctx, text)

	result := &TurnResult{}
	handled := false
	if HasSentinel(reply) {
		if p := ExtractPrescription(reply, time.Now()); p != nil {
			sess.CurrentPrescription = p
			result.PrescriptionReady = true
			result.Prescription = p

			archived := &Consultation{
				ID:             uuid.New(),
				SessionID:      sess.ID,
				Date:           time.Now(),
				Prescription:   *p,
				Messages:       sess.Transcript.All(),
				ChiefComplaint: orDefault(p.ChiefComplaint, "N/A"),
				Diagnosis:      orDefault(p.Diagnosis, "N/A"),
			}
			if err := s.repo.SaveConsultation(ctx, archived); err != nil {
				log.Printf("session %s: failed to archive consultation: %v", sess.ID, err)
				result.addWarning("consultation could not be archived")
			}

			if preface := Preface(reply); preface != "" {
				sess.Transcript.Append(Message{Role: RoleAssistant, Content: preface})
			}
			sess.Transcript.Append(Message{Role: RoleAssistant, Content: PrescriptionNotice})
			handled = true
		}
	}
	if !handled {
		// Sentinel absent, or present with an unusable payload: the raw
		// reply is shown as-is and the current prescription is untouched.
		sess.Transcript.Append(Message{Role: RoleAssistant, Content: reply})
	}

	all := sess.Transcript.All()
	result.Replies = all[len(all)-appendedThisTurn(handled, reply):]
	result.SymptomsCollected = append([]string{}, sess.SymptomsCollected...)

	if err := s.repo.SaveSession(ctx, sess); err != nil {
		log.Printf("session %s: failed to save after turn: %v", sess.ID, err)
		result.addWarning("session could not be saved")
	}

	return result, nil
}

// appendedThisTurn counts the assistant messages appended in this turn so
// the result can echo exactly them.
func appendedThisTurn(prescribed bool, reply string) int {
	if !prescribed {
		return 1
	}
	if Preface(reply) != "" {
		return 2
	}
	return 1
}

func (s *service) Save(ctx context.Context, sessionID string) error {
	st, err := s.getState(ctx, sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return s.repo.SaveSession(ctx, st.session)
}

// NewSession persists the current session, invalidates its dialogue handle,
// and activates a fresh session under a new identifier. The old session
// stays durably retrievable.
func (s *service) NewSession(ctx context.Context, currentID string) (*Session, error) {
	if currentID != "" {
		st, err := s.getState(ctx, currentID)
		if err != nil {
			return nil, err
		}
		st.mu.Lock()
		if err := s.repo.SaveSession(ctx, st.session); err != nil {
			st.mu.Unlock()
			return nil, fmt.Errorf("failed to save current session: %w", err)
		}
		st.dialogue.Reset()
		st.mu.Unlock()

		// The old session is only reachable through the store now, so its
		// live state must not linger in the map.
		s.mu.Lock()
		delete(s.active, currentID)
		s.mu.Unlock()
	}
	return s.StartSession(ctx)
}

// LoadSession activates a stored session and rebuilds model context from its
// transcript, reporting how much of it could be replayed.
func (s *service) LoadSession(ctx context.Context, id string) (*Session, RestoreReport, error) {
	sess, err := s.repo.LoadSession(ctx, id)
	if err != nil {
		return nil, RestoreReport{}, err
	}

	st := &sessionState{session: sess, dialogue: s.newDialogue()}
	report := st.dialogue.RestoreFrom(ctx, sess.Transcript.All())
	if len(report.Failures) > 0 {
		log.Printf("session %s: context restore incomplete, %d/%d turns replayed", id, report.Replayed, report.Attempted)
	}

	s.mu.Lock()
	s.active[id] = st
	s.mu.Unlock()

	return sess, report, nil
}

// GetSession returns a snapshot of the session. Active sessions are cloned
// under the turn lock so callers never observe a transcript mid-mutation.
func (s *service) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	st, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		return copySession(st.session), nil
	}
	return s.repo.LoadSession(ctx, id)
}

func (s *service) SetPatientInfo(ctx context.Context, id string, info map[string]string) error {
	st, err := s.getState(ctx, id)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	for k, v := range info {
		st.session.PatientInfo[k] = v
	}
	return s.repo.SaveSession(ctx, st.session)
}

func (s *service) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	return s.repo.ListSessions(ctx)
}

func (s *service) ListConsultations(ctx context.Context) ([]Consultation, error) {
	return s.repo.ListConsultations(ctx)
}

func (s *service) ExportAll(ctx context.Context) (*DataExport, error) {
	sessions, err := s.repo.AllSessions(ctx)
	if err != nil {
		return nil, err
	}
	consultations, err := s.repo.ListConsultations(ctx)
	if err != nil {
		return nil, err
	}
	return &DataExport{
		Sessions:      sessions,
		Consultations: consultations,
		ExportDate:    time.Now(),
	}, nil
}

// WipeAll drops every stored session and archive entry and discards all live
// state. The confirmation gate is enforced at the HTTP boundary.
func (s *service) WipeAll(ctx context.Context) error {
	if err := s.repo.WipeAll(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	for _, st := range s.active {
		st.dialogue.Reset()
	}
	s.active = make(map[string]*sessionState)
	s.mu.Unlock()
	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
