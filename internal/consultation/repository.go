package consultation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound signals an identifier with no stored record.
var ErrSessionNotFound = errors.New("session not found")

// Repository is the durable store for sessions and the consultation archive.
// Session writes are upserts keyed by identifier; archive writes are
// append-only inserts.
type Repository interface {
	SaveSession(ctx context.Context, s *Session) error
	LoadSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]SessionSummary, error)
	AllSessions(ctx context.Context) ([]Session, error)
	SaveConsultation(ctx context.Context, c *Consultation) error
	ListConsultations(ctx context.Context) ([]Consultation, error)
	WipeAll(ctx context.Context) error
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) SaveSession(ctx context.Context, s *Session) error {
	messagesJSON, err := json.Marshal(s.Transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	patientInfoJSON, err := json.Marshal(s.PatientInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal patient info: %w", err)
	}
	symptomsJSON, err := json.Marshal(s.SymptomsCollected)
	if err != nil {
		return fmt.Errorf("failed to marshal symptoms: %w", err)
	}
	var prescriptionJSON []byte
	if s.CurrentPrescription != nil {
		prescriptionJSON, err = json.Marshal(s.CurrentPrescription)
		if err != nil {
			return fmt.Errorf("failed to marshal prescription: %w", err)
		}
	}

	s.LastUpdated = time.Now()
	s.MessageCount = s.Transcript.Len()

	query := `
		INSERT INTO sessions (session_id, messages, patient_info, symptoms_collected, current_prescription, message_count, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			messages = $2,
			patient_info = $3,
			symptoms_collected = $4,
			current_prescription = $5,
			message_count = $6,
			last_updated = $7
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID, messagesJSON, patientInfoJSON, symptomsJSON, prescriptionJSON, s.MessageCount, s.LastUpdated)
	return err
}

func (r *postgresRepo) LoadSession(ctx context.Context, id string) (*Session, error) {
	query := `SELECT session_id, messages, patient_info, symptoms_collected, current_prescription, message_count, last_updated FROM sessions WHERE session_id = $1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *postgresRepo) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	query := `SELECT session_id, message_count, last_updated FROM sessions ORDER BY session_id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.MessageCount, &sum.LastUpdated); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (r *postgresRepo) AllSessions(ctx context.Context) ([]Session, error) {
	query := `SELECT session_id, messages, patient_info, symptoms_collected, current_prescription, message_count, last_updated FROM sessions ORDER BY session_id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (r *postgresRepo) SaveConsultation(ctx context.Context, c *Consultation) error {
	prescriptionJSON, err := json.Marshal(c.Prescription)
	if err != nil {
		return fmt.Errorf("failed to marshal prescription: %w", err)
	}
	messagesJSON, err := json.Marshal(c.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript snapshot: %w", err)
	}

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	query := `
		INSERT INTO consultations (id, session_id, date, prescription, consultation_messages, chief_complaint, diagnosis)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.SessionID, c.Date, prescriptionJSON, messagesJSON, c.ChiefComplaint, c.Diagnosis)
	return err
}

func (r *postgresRepo) ListConsultations(ctx context.Context) ([]Consultation, error) {
	query := `SELECT id, session_id, date, prescription, consultation_messages, chief_complaint, diagnosis FROM consultations ORDER BY date ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var consultations []Consultation
	for rows.Next() {
		var c Consultation
		var prescriptionJSON, messagesJSON []byte
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Date, &prescriptionJSON, &messagesJSON, &c.ChiefComplaint, &c.Diagnosis); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(prescriptionJSON, &c.Prescription); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prescription: %w", err)
		}
		if len(messagesJSON) > 0 {
			if err := json.Unmarshal(messagesJSON, &c.Messages); err != nil {
				return nil, fmt.Errorf("failed to unmarshal transcript snapshot: %w", err)
			}
		}
		consultations = append(consultations, c)
	}
	return consultations, rows.Err()
}

// WipeAll clears both tables. The typed confirmation gate lives at the HTTP
// boundary; the store itself asks no questions.
func (r *postgresRepo) WipeAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `TRUNCATE sessions`); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `TRUNCATE consultations`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var messagesJSON, patientInfoJSON, symptomsJSON []byte
	var prescriptionJSON sql.NullString

	err := row.Scan(&s.ID, &messagesJSON, &patientInfoJSON, &symptomsJSON, &prescriptionJSON, &s.MessageCount, &s.LastUpdated)
	if err != nil {
		return nil, err
	}

	s.Transcript = NewTranscript()
	if len(messagesJSON) > 0 {
		if err := json.Unmarshal(messagesJSON, s.Transcript); err != nil {
			return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
		}
	}
	s.PatientInfo = map[string]string{}
	if len(patientInfoJSON) > 0 {
		if err := json.Unmarshal(patientInfoJSON, &s.PatientInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal patient info: %w", err)
		}
	}
	s.SymptomsCollected = []string{}
	if len(symptomsJSON) > 0 {
		if err := json.Unmarshal(symptomsJSON, &s.SymptomsCollected); err != nil {
			return nil, fmt.Errorf("failed to unmarshal symptoms: %w", err)
		}
	}
	if prescriptionJSON.Valid && prescriptionJSON.String != "" {
		var p Prescription
		if err := json.Unmarshal([]byte(prescriptionJSON.String), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prescription: %w", err)
		}
		s.CurrentPrescription = &p
	}
	return &s, nil
}
