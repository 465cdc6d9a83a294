package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/inbox-autoresponder/internal/config"
	"github.com/kirillkom/inbox-autoresponder/internal/core/domain"
)

type adminFake struct {
	escalations map[string]domain.Escalation
	listStatus  domain.EscalationStatus
	listLimit   int
	counts      []domain.CategoryCount
	since       time.Time
	watermarks  map[string]uint32
	err         error
}

func newAdminFake() *adminFake {
	return &adminFake{
		escalations: map[string]domain.Escalation{
			"esc-1": {ID: "esc-1", Status: domain.EscalationPending, Priority: domain.PriorityHigh},
			"esc-2": {ID: "esc-2", Status: domain.EscalationResolved, Priority: domain.PriorityLow},
		},
		watermarks: map[string]uint32{},
	}
}

func (f *adminFake) ListEscalations(_ context.Context, status domain.EscalationStatus, limit int) ([]domain.Escalation, error) {
	f.listStatus = status
	f.listLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Escalation, 0)
	for _, esc := range f.escalations {
		if status == "" || esc.Status == status {
			out = append(out, esc)
		}
	}
	return out, nil
}

func (f *adminFake) GetEscalation(_ context.Context, id string) (domain.Escalation, error) {
	esc, ok := f.escalations[id]
	if !ok {
		return domain.Escalation{}, domain.WrapError(domain.ErrNotFound, "get escalation", fmt.Errorf("id=%s", id))
	}
	return esc, nil
}

func (f *adminFake) AssignEscalation(ctx context.Context, id, assignee string) (domain.Escalation, error) {
	esc, err := f.GetEscalation(ctx, id)
	if err != nil {
		return domain.Escalation{}, err
	}
	if err := esc.Assign(assignee, time.Now()); err != nil {
		return domain.Escalation{}, err
	}
	f.escalations[id] = esc
	return esc, nil
}

func (f *adminFake) ResolveEscalation(ctx context.Context, id string) (domain.Escalation, error) {
	esc, err := f.GetEscalation(ctx, id)
	if err != nil {
		return domain.Escalation{}, err
	}
	if err := esc.Resolve(time.Now()); err != nil {
		return domain.Escalation{}, err
	}
	f.escalations[id] = esc
	return esc, nil
}

func (f *adminFake) ListOutcomes(context.Context, int) ([]domain.ResponseOutcome, error) {
	return []domain.ResponseOutcome{{MessageID: "<m@x>", Disposition: domain.DispositionReplied}}, f.err
}

func (f *adminFake) CountOutcomes(_ context.Context, since time.Time) ([]domain.CategoryCount, error) {
	f.since = since
	return f.counts, f.err
}

func (f *adminFake) GetWatermark(_ context.Context, mailbox string) (uint32, error) {
	return f.watermarks[mailbox], f.err
}

type uploaderFake struct {
	owner string
}

func (f *uploaderFake) Upload(_ context.Context, owner, filename, mimeType string, body io.Reader) (domain.KnowledgeDocument, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return domain.KnowledgeDocument{}, err
	}
	if len(raw) == 0 {
		return domain.KnowledgeDocument{}, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("empty file"))
	}
	f.owner = owner
	return domain.KnowledgeDocument{ID: "doc-1", Owner: owner, Filename: filename, MimeType: mimeType, StorageKey: "doc-1_" + filename}, nil
}

func newTestHandler(cfg config.Config, admin *adminFake) http.Handler {
	return NewRouter(cfg, admin, &uploaderFake{}, nil).Handler()
}

func serve(handler http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestHealthzReportsStoreFailure(t *testing.T) {
	handler := NewRouter(config.Config{}, newAdminFake(), &uploaderFake{}, func(context.Context) error {
		return errors.New("connection refused")
	}).Handler()

	res := serve(handler, http.MethodGet, "/healthz", nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestListEscalationsFiltersByStatus(t *testing.T) {
	admin := newAdminFake()
	res := serve(newTestHandler(config.Config{}, admin), http.MethodGet, "/v1/escalations?status=pending&limit=20", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if admin.listStatus != domain.EscalationPending || admin.listLimit != 20 {
		t.Fatalf("unexpected list call status=%s limit=%d", admin.listStatus, admin.listLimit)
	}

	var body struct {
		Escalations []domain.Escalation `json:"escalations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Escalations) != 1 || body.Escalations[0].ID != "esc-1" {
		t.Fatalf("unexpected escalations %+v", body.Escalations)
	}
}

func TestListEscalationsRejectsUnknownStatus(t *testing.T) {
	res := serve(newTestHandler(config.Config{}, newAdminFake()), http.MethodGet, "/v1/escalations?status=closed", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestListEscalationsRejectsLimitAboveMaximum(t *testing.T) {
	res := serve(newTestHandler(config.Config{}, newAdminFake()), http.MethodGet, "/v1/escalations?limit=5000", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestGetEscalationReturns404ForNotFound(t *testing.T) {
	res := serve(newTestHandler(config.Config{}, newAdminFake()), http.MethodGet, "/v1/escalations/missing", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestAssignEscalation(t *testing.T) {
	admin := newAdminFake()
	res := serve(newTestHandler(config.Config{}, admin), http.MethodPost, "/v1/escalations/esc-1/assign", strings.NewReader(`{"assignee":"dana"}`))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	esc := admin.escalations["esc-1"]
	if esc.Status != domain.EscalationAssigned || esc.AssignedTo == nil || *esc.AssignedTo != "dana" {
		t.Fatalf("unexpected escalation %+v", esc)
	}
}

func TestAssignEscalationRequiresAssignee(t *testing.T) {
	res := serve(newTestHandler(config.Config{}, newAdminFake()), http.MethodPost, "/v1/escalations/esc-1/assign", strings.NewReader(`{}`))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestResolveResolvedEscalationConflicts(t *testing.T) {
	res := serve(newTestHandler(config.Config{}, newAdminFake()), http.MethodPost, "/v1/escalations/esc-2/resolve", nil)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestStatsSumsCounts(t *testing.T) {
	admin := newAdminFake()
	admin.counts = []domain.CategoryCount{
		{Category: domain.CategorySpam, Disposition: domain.DispositionDropped, Count: 4},
		{Category: domain.CategoryHelpRequest, Disposition: domain.DispositionReplied, Count: 6},
	}
	res := serve(newTestHandler(config.Config{}, admin), http.MethodGet, "/v1/stats?since=2026-03-01T00:00:00Z", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body struct {
		Total int `json:"total"`
	}
	_ = json.NewDecoder(res.Body).Decode(&body)
	if body.Total != 10 {
		t.Fatalf("expected total 10, got %d", body.Total)
	}
	if !admin.since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected since %s", admin.since)
	}
}

func TestStatsRejectsBadSince(t *testing.T) {
	res := serve(newTestHandler(config.Config{}, newAdminFake()), http.MethodGet, "/v1/stats?since=yesterday", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestWatermarkUsesMailboxIdentity(t *testing.T) {
	admin := newAdminFake()
	admin.watermarks["support@example.com/INBOX"] = 42
	cfg := config.Config{MailboxUsername: "Support@example.com", MailboxFolder: "INBOX"}

	res := serve(newTestHandler(cfg, admin), http.MethodGet, "/v1/watermark", nil)
	var wm domain.Watermark
	if err := json.NewDecoder(res.Body).Decode(&wm); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if wm.LastUID != 42 || wm.Mailbox != "support@example.com/INBOX" {
		t.Fatalf("unexpected watermark %+v", wm)
	}
}

func TestOutcomesStoreFailureIs503(t *testing.T) {
	admin := newAdminFake()
	admin.err = domain.WrapError(domain.ErrTemporary, "list outcomes", errors.New("db down"))
	res := serve(newTestHandler(config.Config{}, admin), http.MethodGet, "/v1/outcomes", nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestUploadKnowledgeDefaultsOwner(t *testing.T) {
	uploader := &uploaderFake{}
	handler := NewRouter(config.Config{KnowledgeOwner: "support"}, newAdminFake(), uploader, nil).Handler()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "faq.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("Opening hours: 9-17"))
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if uploader.owner != "support" {
		t.Fatalf("expected default owner, got %q", uploader.owner)
	}
}

func TestUploadKnowledgeRequiresFile(t *testing.T) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("owner", "support")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	res := httptest.NewRecorder()
	newTestHandler(config.Config{}, newAdminFake()).ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
