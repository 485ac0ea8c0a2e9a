package consultation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Remedy is one prescribed medicine inside a Prescription.
type Remedy struct {
	Medicine     string `json:"medicine"`
	Potency      string `json:"potency"`
	Dosage       string `json:"dosage"`
	Instructions string `json:"instructions"`
	Purpose      string `json:"purpose"`
	KeynoteMatch string `json:"keynote_match,omitempty"`
}

// Prescription is the structured record extracted from a doctor reply.
// Remedies is the only required field; everything else defaults to empty
// text when the model omits it. The fields past Precautions are emitted
// only by the constitutional persona.
type Prescription struct {
	PatientName              string   `json:"patient_name"`
	Date                     string   `json:"date"`
	ChiefComplaint           string   `json:"chief_complaint"`
	Diagnosis                string   `json:"diagnosis"`
	Remedies                 []Remedy `json:"remedies"`
	DietaryAdvice            []string `json:"dietary_advice"`
	LifestyleRecommendations []string `json:"lifestyle_recommendations"`
	FollowUp                 string   `json:"follow_up"`
	Precautions              []string `json:"precautions"`

	CaseSummary          string   `json:"case_summary,omitempty"`
	ConstitutionalType   string   `json:"constitutional_type,omitempty"`
	MiasmaticAssessment  string   `json:"miasmatic_assessment,omitempty"`
	MindBodyGuidance     []string `json:"mind_body_guidance,omitempty"`
	ComplementarySupport []string `json:"complementary_support,omitempty"`
	HealingProgression   string   `json:"healing_progression,omitempty"`
	AggravationNote      string   `json:"aggravation_note,omitempty"`
	RemedyRepeatGuidance string   `json:"remedy_repeat_guidance,omitempty"`
	RedFlags             string   `json:"red_flags,omitempty"`
	Disclaimer           string   `json:"disclaimer,omitempty"`
}

// Session is the aggregate for one consultation conversation. The identifier
// is derived from the creation time so that listings sort chronologically.
type Session struct {
	ID                  string            `json:"session_id"`
	Transcript          *Transcript       `json:"messages"`
	PatientInfo         map[string]string `json:"patient_info"`
	SymptomsCollected   []string          `json:"symptoms_collected"`
	CurrentPrescription *Prescription     `json:"current_prescription,omitempty"`
	LastUpdated         time.Time         `json:"last_updated"`
	MessageCount        int               `json:"message_count"`
}

func NewSession(id string) *Session {
	return &Session{
		ID:                id,
		Transcript:        NewTranscript(),
		PatientInfo:       map[string]string{},
		SymptomsCollected: []string{},
	}
}

// NewSessionID derives a unique, lexically sortable identifier from t.
func NewSessionID(t time.Time) string {
	return fmt.Sprintf("%s_%06d", t.Format("20060102_150405"), t.Nanosecond()/1000)
}

// AddSymptom records a symptom token once, preserving first-appearance order.
func (s *Session) AddSymptom(token string) bool {
	for _, got := range s.SymptomsCollected {
		if got == token {
			return false
		}
	}
	s.SymptomsCollected = append(s.SymptomsCollected, token)
	return true
}

// SessionSummary is the listing view of a stored session.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	MessageCount int       `json:"message_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Consultation is one finalized archive entry. It is append-only; later
// session mutation never touches it.
type Consultation struct {
	ID             uuid.UUID    `json:"id"`
	SessionID      string       `json:"session_id"`
	Date           time.Time    `json:"date"`
	Prescription   Prescription `json:"prescription"`
	Messages       []Message    `json:"consultation_messages"`
	ChiefComplaint string       `json:"chief_complaint"`
	Diagnosis      string       `json:"diagnosis"`
}

// Dialogue is the live conversation handle with the remote doctor model.
// Implementations prime a fresh handle with the persona preamble, fail soft
// on transport errors, and rebuild model-side context from a persisted
// transcript by replaying the user turns.
type Dialogue interface {
	EnsureActive(ctx context.Context)
	Send(ctx context.Context, text string) string
	Reset()
	RestoreFrom(ctx context.Context, transcript []Message) RestoreReport
}

// DialogueFactory allocates a fresh, absent dialogue handle for a session.
type DialogueFactory func() Dialogue

// RestoreReport records the outcome of replaying a transcript into a fresh
// dialogue handle. Failures are skipped, not fatal; the report makes a
// partial reconstruction visible instead of swallowing it.
type RestoreReport struct {
	Attempted int              `json:"attempted"`
	Replayed  int              `json:"replayed"`
	Failures  []RestoreFailure `json:"failures,omitempty"`
}

type RestoreFailure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}
