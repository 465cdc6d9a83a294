package httpadapter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/adapters/http/openapi"
	"github.com/kirillkom/inbox-autoresponder/internal/config"
	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
	"github.com/kirillkom/inbox-autoresponder/internal/core/ports"
)

const maxUploadBytes = 32 << 20

// AdminService is what operators can do through the API.
type AdminService interface {
	ports.EscalationService
	ports.OutcomeReader
}

type KnowledgeUploader interface {
	Upload(ctx context.Context, owner, filename, mimeType string, body io.Reader) (domain.KnowledgeDocument, error)
}

// HealthCheck reports whether the backing store is reachable.
type HealthCheck func(ctx context.Context) error

type Router struct {
	cfg      config.Config
	admin    AdminService
	uploader KnowledgeUploader
	health   HealthCheck
}

func NewRouter(cfg config.Config, admin AdminService, uploader KnowledgeUploader, health HealthCheck) *Router {
	return &Router{
		cfg:      cfg,
		admin:    admin,
		uploader: uploader,
		health:   health,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", rt.openAPIDocument)
	mux.HandleFunc("GET /v1/escalations", rt.listEscalations)
	mux.HandleFunc("GET /v1/escalations/{id}", rt.getEscalation)
	mux.HandleFunc("POST /v1/escalations/{id}/assign", rt.assignEscalation)
	mux.HandleFunc("POST /v1/escalations/{id}/resolve", rt.resolveEscalation)
	mux.HandleFunc("GET /v1/outcomes", rt.listOutcomes)
	mux.HandleFunc("GET /v1/stats", rt.stats)
	mux.HandleFunc("GET /v1/watermark", rt.watermark)
	mux.HandleFunc("POST /v1/knowledge", rt.uploadKnowledge)

	var handler http.Handler = mux
	handler = mustRequestValidation(handler)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxInFlight, rt.cfg.APIQueueWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func mustRequestValidation(next http.Handler) http.Handler {
	doc, err := openapi.Load(context.Background())
	if err != nil {
		panic(err)
	}
	handler, err := requestValidationMiddleware(next, doc)
	if err != nil {
		panic(err)
	}
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	if rt.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPIDocument(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(openapi.Raw())
}

func (rt *Router) listEscalations(w http.ResponseWriter, r *http.Request) {
	var status domain.EscalationStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := domain.ParseEscalationStatus(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + strconv.Quote(raw)})
			return
		}
		status = parsed
	}

	list, err := rt.admin.ListEscalations(r.Context(), status, queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": list})
}

func (rt *Router) getEscalation(w http.ResponseWriter, r *http.Request) {
	esc, err := rt.admin.GetEscalation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (rt *Router) assignEscalation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Assignee string `json:"assignee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	esc, err := rt.admin.AssignEscalation(r.Context(), r.PathValue("id"), strings.TrimSpace(req.Assignee))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (rt *Router) resolveEscalation(w http.ResponseWriter, r *http.Request) {
	esc, err := rt.admin.ResolveEscalation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

func (rt *Router) listOutcomes(w http.ResponseWriter, r *http.Request) {
	list, err := rt.admin.ListOutcomes(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": list})
}

func (rt *Router) stats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be an RFC 3339 timestamp"})
			return
		}
		since = parsed
	}

	counts, err := rt.admin.CountOutcomes(r.Context(), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total := 0
	for _, c := range counts {
		total += c.Count
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":  since,
		"total":  total,
		"counts": counts,
	})
}

func (rt *Router) watermark(w http.ResponseWriter, r *http.Request) {
	mailbox := rt.cfg.MailboxIdentity()
	uid, err := rt.admin.GetWatermark(r.Context(), mailbox)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.Watermark{Mailbox: mailbox, LastUID: uid})
}

func (rt *Router) uploadKnowledge(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	owner := strings.TrimSpace(r.FormValue("owner"))
	if owner == "" {
		owner = rt.cfg.KnowledgeOwner
	}

	doc, err := rt.uploader.Upload(r.Context(), owner, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
