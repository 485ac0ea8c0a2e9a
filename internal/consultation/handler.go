package consultation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// wipeConfirmToken is the literal an operator must type to clear the store.
const wipeConfirmToken = "DELETE"

// Exporter renders a prescription into the downloadable formats. Defined
// here to decouple from the report implementation.
type Exporter interface {
	Markdown(p Prescription) string
	CSV(p Prescription) (string, error)
	JSON(p Prescription) ([]byte, error)
	PDF(p Prescription) ([]byte, error)
}

type Handler struct {
	svc      Service
	exporter Exporter
}

func NewHandler(svc Service, exporter Exporter) *Handler {
	return &Handler{svc: svc, exporter: exporter}
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type wipeRequest struct {
	Confirm string `json:"confirm"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.StartSession(r.Context())
	if err != nil {
		http.Error(w, "Failed to create session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sess)
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Message == "" {
		http.Error(w, "session_id and message are required", http.StatusBadRequest)
		return
	}

	result, err := h.svc.Chat(r.Context(), req.SessionID, req.Message)
	if err != nil {
		http.Error(w, "Processing failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) SaveSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.svc.Save(r.Context(), req.SessionID); err != nil {
		http.Error(w, "Save failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "saved"})
}

func (h *Handler) NewSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	sess, err := h.svc.NewSession(r.Context(), req.SessionID)
	if err != nil {
		http.Error(w, "Failed to start new session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sess)
}

func (h *Handler) LoadSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	sess, report, err := h.svc.LoadSession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Load failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"session":        sess,
		"restore_report": report,
	})
}

// ListSessions returns the most recent N session summaries, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.svc.ListSessions(r.Context())
	if err != nil {
		http.Error(w, "Listing failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].SessionID > summaries[j].SessionID
	})
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if len(summaries) > limit {
		summaries = summaries[:limit]
	}
	writeJSON(w, summaries)
}

func (h *Handler) ListConsultations(w http.ResponseWriter, r *http.Request) {
	consultations, err := h.svc.ListConsultations(r.Context())
	if err != nil {
		http.Error(w, "Listing failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, consultations)
}

func (h *Handler) SetPatientInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var info map[string]string
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := h.svc.SetPatientInfo(r.Context(), id, info); err != nil {
		http.Error(w, "Update failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "updated"})
}

// ExportPrescription serves the session's current prescription in the
// requested format.
func (h *Handler) ExportPrescription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := chi.URLParam(r, "format")

	sess, err := h.svc.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Lookup failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if sess.CurrentPrescription == nil {
		http.Error(w, "No prescription for this session", http.StatusNotFound)
		return
	}
	p := *sess.CurrentPrescription

	stamp := time.Now().Format("20060102_150405")
	switch format {
	case "markdown":
		serveDownload(w, "text/markdown", fmt.Sprintf("prescription_%s.md", stamp), []byte(h.exporter.Markdown(p)))
	case "json":
		data, err := h.exporter.JSON(p)
		if err != nil {
			http.Error(w, "Export failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		serveDownload(w, "application/json", fmt.Sprintf("prescription_%s.json", stamp), data)
	case "csv":
		data, err := h.exporter.CSV(p)
		if err != nil {
			http.Error(w, "Export failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		serveDownload(w, "text/csv", fmt.Sprintf("prescription_%s.csv", stamp), []byte(data))
	case "pdf":
		data, err := h.exporter.PDF(p)
		if err != nil {
			http.Error(w, "Export failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		serveDownload(w, "application/pdf", fmt.Sprintf("prescription_%s.pdf", stamp), data)
	default:
		http.Error(w, "Unknown format: "+format, http.StatusBadRequest)
	}
}

func (h *Handler) ExportAll(w http.ResponseWriter, r *http.Request) {
	dump, err := h.svc.ExportAll(r.Context())
	if err != nil {
		http.Error(w, "Export failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		http.Error(w, "Export failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	name := fmt.Sprintf("homeo_clinic_export_%s.json", time.Now().Format("20060102_150405"))
	serveDownload(w, "application/json", name, data)
}

// Wipe clears all stored data. The typed confirmation literal is checked
// here, at the boundary; the store wipes unconditionally once called.
func (h *Handler) Wipe(w http.ResponseWriter, r *http.Request) {
	var req wipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Confirm != wipeConfirmToken {
		http.Error(w, fmt.Sprintf("Type %q to confirm", wipeConfirmToken), http.StatusBadRequest)
		return
	}
	if err := h.svc.WipeAll(r.Context()); err != nil {
		http.Error(w, "Wipe failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "cleared"})
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/session", h.CreateSession)
	r.Post("/session/chat", h.Chat)
	r.Post("/session/save", h.SaveSession)
	r.Post("/session/new", h.NewSession)
	r.Post("/session/load", h.LoadSession)
	r.Get("/sessions", h.ListSessions)
	r.Get("/consultations", h.ListConsultations)
	r.Put("/session/{id}/patient-info", h.SetPatientInfo)
	r.Get("/session/{id}/prescription/{format}", h.ExportPrescription)
	r.Get("/export", h.ExportAll)
	r.Post("/admin/wipe", h.Wipe)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func serveDownload(w http.ResponseWriter, contentType, name string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(data)
}
