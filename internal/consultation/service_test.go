package consultation_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"homeoclinic-agent/internal/consultation"
)

// scriptedDialogue is a Dialogue that returns canned replies and records
// what was sent and replayed.
type scriptedDialogue struct {
	replies  []string
	next     int
	active   bool
	sent     []string
	replayed []string
}

func (d *scriptedDialogue) EnsureActive(ctx context.Context) { d.active = true }

func (d *scriptedDialogue) Send(ctx context.Context, text string) string {
	d.EnsureActive(ctx)
	d.sent = append(d.sent, text)
	if d.next >= len(d.replies) {
		return "Could you tell me more about that?"
	}
	reply := d.replies[d.next]
	d.next++
	return reply
}

func (d *scriptedDialogue) Reset() { d.active = false }

func (d *scriptedDialogue) RestoreFrom(ctx context.Context, transcript []consultation.Message) consultation.RestoreReport {
	var report consultation.RestoreReport
	if d.active || len(transcript) == 0 {
		return report
	}
	d.active = true
	for _, m := range transcript {
		if m.Role != consultation.RoleUser {
			continue
		}
		report.Attempted++
		report.Replayed++
		d.replayed = append(d.replayed, m.Content)
	}
	return report
}

type fixture struct {
	svc     consultation.Service
	repo    consultation.Repository
	created []*scriptedDialogue
}

func newFixture(replies ...string) *fixture {
	f := &fixture{repo: consultation.NewMemoryRepository()}
	f.svc = consultation.NewService(f.repo, func() consultation.Dialogue {
		d := &scriptedDialogue{replies: replies}
		f.created = append(f.created, d)
		return d
	})
	return f
}

// failingRepo wraps a working Repository and fails selected writes on demand,
// so persistence-error handling can be exercised mid-conversation.
type failingRepo struct {
	consultation.Repository
	failSession      bool
	failConsultation bool
}

func (r *failingRepo) SaveSession(ctx context.Context, s *consultation.Session) error {
	if r.failSession {
		return errors.New("connection refused")
	}
	return r.Repository.SaveSession(ctx, s)
}

func (r *failingRepo) SaveConsultation(ctx context.Context, c *consultation.Consultation) error {
	if r.failConsultation {
		return errors.New("connection refused")
	}
	return r.Repository.SaveConsultation(ctx, c)
}

func newFailingFixture(replies ...string) (*fixture, *failingRepo) {
	repo := &failingRepo{Repository: consultation.NewMemoryRepository()}
	f := &fixture{repo: repo}
	f.svc = consultation.NewService(repo, func() consultation.Dialogue {
		d := &scriptedDialogue{replies: replies}
		f.created = append(f.created, d)
		return d
	})
	return f, repo
}

const prescriptionReply = "I now have a complete picture of your case. PRESCRIPTION_READY\n" +
	`{"chief_complaint": "knee pain", "diagnosis": "acute injury", "remedies": [{"medicine": "Arnica", "potency": "30C", "dosage": "twice daily", "instructions": "under the tongue", "purpose": "trauma"}]}`

func TestChatPrescriptionTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(prescriptionReply)

	sess, err := f.svc.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	result, err := f.svc.Chat(ctx, sess.ID, "My knee hurts")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if !result.PrescriptionReady {
		t.Fatal("expected prescription to be ready")
	}
	if result.Prescription == nil || len(result.Prescription.Remedies) != 1 {
		t.Fatalf("unexpected prescription: %+v", result.Prescription)
	}
	if result.Prescription.Remedies[0].Medicine != "Arnica" {
		t.Fatalf("unexpected remedy: %+v", result.Prescription.Remedies[0])
	}
	if result.SaveWarning != "" {
		t.Fatalf("unexpected save warning: %s", result.SaveWarning)
	}

	// One user message plus preface and canned notice.
	stored, err := f.repo.LoadSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	messages := stored.Transcript.All()
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d: %+v", len(messages), messages)
	}
	if messages[0].Role != consultation.RoleUser || messages[0].Content != "My knee hurts" {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if messages[1].Role != consultation.RoleAssistant || !strings.Contains(messages[1].Content, "complete picture") {
		t.Fatalf("expected preface as second message: %+v", messages[1])
	}
	if messages[2].Content != consultation.PrescriptionNotice {
		t.Fatalf("expected canned notice as third message: %+v", messages[2])
	}
	if stored.CurrentPrescription == nil || stored.CurrentPrescription.Remedies[0].Medicine != "Arnica" {
		t.Fatalf("current prescription not persisted: %+v", stored.CurrentPrescription)
	}

	archive, err := f.repo.ListConsultations(ctx)
	if err != nil {
		t.Fatalf("ListConsultations failed: %v", err)
	}
	if len(archive) != 1 {
		t.Fatalf("expected 1 archive entry, got %d", len(archive))
	}
	if archive[0].ChiefComplaint != "knee pain" || archive[0].SessionID != sess.ID {
		t.Fatalf("unexpected archive entry: %+v", archive[0])
	}
	// Snapshot taken before the assistant messages were appended.
	if len(archive[0].Messages) != 1 {
		t.Fatalf("expected snapshot of 1 message, got %d", len(archive[0].Messages))
	}
}

func TestChatSentinelWithBrokenPayload(t *testing.T) {
	ctx := context.Background()
	broken := `Almost there. PRESCRIPTION_READY {"remedies": [{"medicine":`
	f := newFixture(broken)

	sess, err := f.svc.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	result, err := f.svc.Chat(ctx, sess.ID, "Anything else?")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if result.PrescriptionReady {
		t.Fatal("broken payload must not mark a prescription ready")
	}

	stored, _ := f.repo.LoadSession(ctx, sess.ID)
	messages := stored.Transcript.All()
	if len(messages) != 2 {
		t.Fatalf("expected user + verbatim reply, got %d messages", len(messages))
	}
	if messages[1].Content != broken {
		t.Fatalf("raw reply not preserved verbatim: %q", messages[1].Content)
	}
	if stored.CurrentPrescription != nil {
		t.Fatalf("prescription must stay unset, got %+v", stored.CurrentPrescription)
	}
}

func TestChatPlainReply(t *testing.T) {
	ctx := context.Background()
	f := newFixture("How long have you had the headache?")

	sess, _ := f.svc.StartSession(ctx)
	result, err := f.svc.Chat(ctx, sess.ID, "I have a headache and fever")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if result.PrescriptionReady {
		t.Fatal("plain reply must not produce a prescription")
	}
	if len(result.Replies) != 1 || result.Replies[0].Content != "How long have you had the headache?" {
		t.Fatalf("unexpected replies: %+v", result.Replies)
	}

	want := []string{"headache", "fever"}
	if len(result.SymptomsCollected) != 2 || result.SymptomsCollected[0] != want[0] || result.SymptomsCollected[1] != want[1] {
		t.Fatalf("symptoms = %v, want %v", result.SymptomsCollected, want)
	}

	// A second mention adds nothing.
	if _, err := f.svc.Chat(ctx, sess.ID, "the headache is worse at night"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	stored, _ := f.repo.LoadSession(ctx, sess.ID)
	if len(stored.SymptomsCollected) != 2 {
		t.Fatalf("duplicate symptom recorded: %v", stored.SymptomsCollected)
	}
}

func TestSaveThenLoadReadYourWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture("Noted. What else?")

	sess, _ := f.svc.StartSession(ctx)
	if _, err := f.svc.Chat(ctx, sess.ID, "constant stress at work"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if err := f.svc.Save(ctx, sess.ID); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, _, err := f.svc.LoadSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded.Transcript.Len() != 2 {
		t.Fatalf("expected 2 messages, got %d", loaded.Transcript.Len())
	}
	if len(loaded.SymptomsCollected) != 1 || loaded.SymptomsCollected[0] != "stress" {
		t.Fatalf("unexpected symptoms: %v", loaded.SymptomsCollected)
	}
	if loaded.MessageCount != 2 {
		t.Fatalf("message count not recomputed: %d", loaded.MessageCount)
	}
}

func TestNewSessionKeepsOldRetrievable(t *testing.T) {
	ctx := context.Background()
	f := newFixture("Tell me more.", "And then?", "I see.")

	sess, _ := f.svc.StartSession(ctx)
	for _, msg := range []string{"first", "second"} {
		if _, err := f.svc.Chat(ctx, sess.ID, msg); err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
	}

	fresh, err := f.svc.NewSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if fresh.ID == sess.ID {
		t.Fatal("new session must get a fresh identifier")
	}
	if fresh.Transcript.Len() != 0 {
		t.Fatalf("new session transcript not empty: %d", fresh.Transcript.Len())
	}

	old, err := f.repo.LoadSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("old session lost: %v", err)
	}
	if old.Transcript.Len() != 4 {
		t.Fatalf("expected old session to keep 4 messages, got %d", old.Transcript.Len())
	}

	// The old dialogue handle was invalidated when the session changed.
	if f.created[0].active {
		t.Fatal("old dialogue handle still active after session switch")
	}
}

func TestLoadSessionReplaysUserTurnsOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	// Persist a finished conversation directly.
	stored := consultation.NewSession(consultation.NewSessionID(time.Now()))
	for i := 0; i < 3; i++ {
		stored.Transcript.Append(consultation.Message{Role: consultation.RoleUser, Content: "question"})
		stored.Transcript.Append(consultation.Message{Role: consultation.RoleAssistant, Content: "answer"})
	}
	if err := f.repo.SaveSession(ctx, stored); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	_, report, err := f.svc.LoadSession(ctx, stored.ID)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if report.Attempted != 3 || report.Replayed != 3 {
		t.Fatalf("expected 3 replayed user turns, got %+v", report)
	}

	d := f.created[len(f.created)-1]
	if len(d.replayed) != 3 {
		t.Fatalf("dialogue replayed %d messages, want 3", len(d.replayed))
	}
}

func TestWipeAllClearsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(prescriptionReply)

	sess, _ := f.svc.StartSession(ctx)
	if _, err := f.svc.Chat(ctx, sess.ID, "My knee hurts"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if err := f.svc.WipeAll(ctx); err != nil {
		t.Fatalf("WipeAll failed: %v", err)
	}

	if _, err := f.repo.LoadSession(ctx, sess.ID); err != consultation.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after wipe, got %v", err)
	}
	archive, _ := f.repo.ListConsultations(ctx)
	if len(archive) != 0 {
		t.Fatalf("archive not cleared: %d entries", len(archive))
	}
}

func TestChatSurvivesSessionSaveFailure(t *testing.T) {
	ctx := context.Background()
	f, repo := newFailingFixture("How long have you had it?")

	sess, err := f.svc.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	repo.failSession = true

	result, err := f.svc.Chat(ctx, sess.ID, "My knee hurts")
	if err != nil {
		t.Fatalf("Chat must not fail on a storage error: %v", err)
	}
	if len(result.Replies) != 1 || result.Replies[0].Content != "How long have you had it?" {
		t.Fatalf("reply dropped on storage error: %+v", result.Replies)
	}
	if result.SaveWarning != "session could not be saved" {
		t.Fatalf("save warning = %q", result.SaveWarning)
	}

	// The turn survives in the live session even though the write failed.
	live, err := f.svc.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if live.Transcript.Len() != 2 {
		t.Fatalf("expected 2 live messages, got %d", live.Transcript.Len())
	}

	// Once the store recovers, the next turn persists the full transcript.
	repo.failSession = false
	if _, err := f.svc.Chat(ctx, sess.ID, "since Tuesday"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	stored, err := f.repo.LoadSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if stored.Transcript.Len() != 4 {
		t.Fatalf("expected 4 persisted messages after recovery, got %d", stored.Transcript.Len())
	}
}

func TestChatSurvivesArchiveFailure(t *testing.T) {
	ctx := context.Background()
	f, repo := newFailingFixture(prescriptionReply)

	sess, _ := f.svc.StartSession(ctx)
	repo.failConsultation = true

	result, err := f.svc.Chat(ctx, sess.ID, "My knee hurts")
	if err != nil {
		t.Fatalf("Chat must not fail on an archive error: %v", err)
	}
	if !result.PrescriptionReady || result.Prescription == nil {
		t.Fatalf("prescription lost on archive error: %+v", result)
	}
	if len(result.Replies) != 2 {
		t.Fatalf("expected preface and notice, got %+v", result.Replies)
	}
	if result.SaveWarning != "consultation could not be archived" {
		t.Fatalf("save warning = %q", result.SaveWarning)
	}

	// The session save still went through with the prescription attached.
	stored, err := f.repo.LoadSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if stored.CurrentPrescription == nil {
		t.Fatal("current prescription not persisted")
	}
}

func TestChatAccumulatesPersistenceWarnings(t *testing.T) {
	ctx := context.Background()
	f, repo := newFailingFixture(prescriptionReply)

	sess, _ := f.svc.StartSession(ctx)
	repo.failSession = true
	repo.failConsultation = true

	result, err := f.svc.Chat(ctx, sess.ID, "My knee hurts")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	want := "consultation could not be archived; session could not be saved"
	if result.SaveWarning != want {
		t.Fatalf("save warning = %q, want %q", result.SaveWarning, want)
	}
}

func TestGetSessionReturnsSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture("Noted.")

	sess, _ := f.svc.StartSession(ctx)
	if _, err := f.svc.Chat(ctx, sess.ID, "constant stress at work"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	got, err := f.svc.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	got.Transcript.Append(consultation.Message{Role: consultation.RoleUser, Content: "tampered"})
	got.PatientInfo["name"] = "tampered"
	got.SymptomsCollected = append(got.SymptomsCollected, "tampered")

	again, err := f.svc.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if again.Transcript.Len() != 2 {
		t.Fatalf("live transcript mutated through snapshot: %d messages", again.Transcript.Len())
	}
	if len(again.PatientInfo) != 0 || len(again.SymptomsCollected) != 1 {
		t.Fatalf("live session mutated through snapshot: %+v", again)
	}
}

func TestNewSessionEvictsOldLiveState(t *testing.T) {
	ctx := context.Background()
	f := newFixture("Tell me more.", "And then?")

	sess, _ := f.svc.StartSession(ctx)
	if _, err := f.svc.Chat(ctx, sess.ID, "first complaint"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if _, err := f.svc.NewSession(ctx, sess.ID); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if len(f.created) != 2 {
		t.Fatalf("expected 2 dialogues after switch, got %d", len(f.created))
	}

	// Returning to the old session goes through the store and gets a fresh
	// dialogue with its context replayed, not the discarded one.
	if _, err := f.svc.Chat(ctx, sess.ID, "back to the old case"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(f.created) != 3 {
		t.Fatalf("old live state not released, %d dialogues created", len(f.created))
	}
	d := f.created[2]
	if len(d.replayed) != 1 || d.replayed[0] != "first complaint" {
		t.Fatalf("reloaded dialogue replayed %v", d.replayed)
	}
}

// slowLoadRepo stalls loads for one session id until released.
type slowLoadRepo struct {
	consultation.Repository
	blockID string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *slowLoadRepo) LoadSession(ctx context.Context, id string) (*consultation.Session, error) {
	if id == r.blockID {
		r.once.Do(func() { close(r.entered) })
		<-r.release
	}
	return r.Repository.LoadSession(ctx, id)
}

func TestSlowSessionLoadDoesNotBlockOtherSessions(t *testing.T) {
	ctx := context.Background()
	repo := &slowLoadRepo{
		Repository: consultation.NewMemoryRepository(),
		blockID:    "stalled",
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	f := &fixture{repo: repo}
	f.svc = consultation.NewService(repo, func() consultation.Dialogue {
		return &scriptedDialogue{replies: []string{"Noted."}}
	})

	sess, err := f.svc.StartSession(ctx)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	stalled := make(chan struct{})
	go func() {
		defer close(stalled)
		_, _ = f.svc.Chat(ctx, "stalled", "hello")
	}()
	<-repo.entered

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Chat(ctx, sess.ID, "my turn")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Chat failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("turn stuck behind another session's store read")
	}

	close(repo.release)
	<-stalled
}
