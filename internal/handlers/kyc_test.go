package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/iwc-exchange/apiserver/internal/services"
	"github.com/iwc-exchange/apiserver/internal/store"
	"github.com/iwc-exchange/apiserver/types"
)

const testUploadDir = "uploads/kyc"

type fakeKYCRepo struct {
	subs      map[string]types.KYCSubmission
	nextID    int
	createErr error
	// skipPreCheck simulates the check-then-insert race: the existence
	// pre-check sees nothing even though the insert will conflict.
	skipPreCheck bool
}

func newFakeKYCRepo() *fakeKYCRepo {
	return &fakeKYCRepo{subs: map[string]types.KYCSubmission{}}
}

func (f *fakeKYCRepo) GetByEmail(ctx context.Context, email string) (types.KYCSubmission, error) {
	if f.skipPreCheck {
		return types.KYCSubmission{}, store.ErrNotFound
	}
	sub, ok := f.subs[email]
	if !ok {
		return types.KYCSubmission{}, store.ErrNotFound
	}
	return sub, nil
}

func (f *fakeKYCRepo) Create(ctx context.Context, sub types.KYCSubmission) (types.KYCSubmission, error) {
	if f.createErr != nil {
		return types.KYCSubmission{}, f.createErr
	}
	if _, ok := f.subs[sub.UserEmail]; ok {
		return types.KYCSubmission{}, store.ErrDuplicate
	}
	f.nextID++
	sub.ID = f.nextID
	if sub.Status == "" {
		sub.Status = types.StatusPending
	}
	f.subs[sub.UserEmail] = sub
	return sub, nil
}

type fakeDocStore struct {
	objects map[string][]byte
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{objects: map[string][]byte{}}
}

func (f *fakeDocStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func newKYCRouter(repo services.KYCRepository, docs services.DocumentStore) *chi.Mux {
	svc := services.NewKYCService(repo, docs, nil, testUploadDir)
	router := chi.NewRouter()
	router.Route("/kyc", func(r chi.Router) {
		KYCRouter(r, svc, RequireAuth(testAuthConfig()))
	})
	return router
}

func authHeader(t *testing.T, email string) string {
	t.Helper()
	token, err := issueToken(email, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

type submitForm struct {
	bvn     string
	nin     string
	address string
	files   map[string]string
}

func defaultSubmitForm() submitForm {
	return submitForm{
		bvn:     "12345678901",
		nin:     "10987654321",
		address: "12 Marina Road, Lagos",
		files: map[string]string{
			formFileNINFront: "front.png",
			formFileNINBack:  "back.png",
			formFileSelfie:   "selfie.png",
		},
	}
}

func buildSubmitRequest(t *testing.T, form submitForm) *http.Request {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for field, value := range map[string]string{
		formFieldBVN:     form.bvn,
		formFieldNIN:     form.nin,
		formFieldAddress: form.address,
	} {
		if err := writer.WriteField(field, value); err != nil {
			t.Fatalf("write field %s: %v", field, err)
		}
	}
	for field, filename := range form.files {
		part, err := writer.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("create file part %s: %v", field, err)
		}
		if _, err := part.Write([]byte("image-bytes-" + filename)); err != nil {
			t.Fatalf("write file part %s: %v", field, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/kyc/submit", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func errorDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response %q: %v", rec.Body.String(), err)
	}
	return resp.Detail
}

func TestSubmitRequiresAuth(t *testing.T) {
	repo := newFakeKYCRepo()
	docs := newFakeDocStore()
	router := newKYCRouter(repo, docs)

	// Invalid field values on purpose: the request must be rejected by
	// the middleware before any validation runs.
	form := defaultSubmitForm()
	form.bvn = "nope"
	req := buildSubmitRequest(t, form)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := errorDetail(t, rec); got != detailNotAuthenticated {
		t.Fatalf("detail = %q, want %q", got, detailNotAuthenticated)
	}
	if len(repo.subs) != 0 || len(docs.objects) != 0 {
		t.Fatalf("unauthenticated request reached the service")
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*submitForm)
		detail string
	}{
		{name: "bvn too short", mutate: func(f *submitForm) { f.bvn = "1234567890" }, detail: "BVN must be 11 digits"},
		{name: "bvn too long", mutate: func(f *submitForm) { f.bvn = "123456789012" }, detail: "BVN must be 11 digits"},
		{name: "bvn non-digit", mutate: func(f *submitForm) { f.bvn = "1234567890a" }, detail: "BVN must be 11 digits"},
		{name: "nin too short", mutate: func(f *submitForm) { f.nin = "123" }, detail: "NIN must be 11 digits"},
		{name: "nin non-digit", mutate: func(f *submitForm) { f.nin = "12345 78901" }, detail: "NIN must be 11 digits"},
		{name: "address too short", mutate: func(f *submitForm) { f.address = "short" }, detail: "Invalid address"},
		{name: "address whitespace only", mutate: func(f *submitForm) { f.address = "             " }, detail: "Invalid address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeKYCRepo()
			router := newKYCRouter(repo, newFakeDocStore())

			form := defaultSubmitForm()
			tt.mutate(&form)
			req := buildSubmitRequest(t, form)
			req.Header.Set("Authorization", authHeader(t, "kyc@example.com"))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
			if got := errorDetail(t, rec); got != tt.detail {
				t.Fatalf("detail = %q, want %q", got, tt.detail)
			}
			if len(repo.subs) != 0 {
				t.Fatalf("invalid submission was persisted")
			}
		})
	}
}

func TestSubmitMissingFile(t *testing.T) {
	router := newKYCRouter(newFakeKYCRepo(), newFakeDocStore())

	form := defaultSubmitForm()
	delete(form.files, formFileSelfie)
	req := buildSubmitRequest(t, form)
	req.Header.Set("Authorization", authHeader(t, "kyc@example.com"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := errorDetail(t, rec); got != "selfie file is required" {
		t.Fatalf("detail = %q", got)
	}
}

func TestSubmitSuccess(t *testing.T) {
	repo := newFakeKYCRepo()
	docs := newFakeDocStore()
	router := newKYCRouter(repo, docs)

	req := buildSubmitRequest(t, defaultSubmitForm())
	req.Header.Set("Authorization", authHeader(t, "kyc@example.com"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "KYC submitted successfully") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	sub, ok := repo.subs["kyc@example.com"]
	if !ok {
		t.Fatalf("submission not persisted")
	}
	if sub.Status != types.StatusPending {
		t.Fatalf("status = %q, want pending", sub.Status)
	}
	if sub.BVN != "12345678901" || sub.NIN != "10987654321" {
		t.Fatalf("identifiers not stored: %+v", sub)
	}

	if len(docs.objects) != 3 {
		t.Fatalf("stored %d documents, want 3", len(docs.objects))
	}
	for path, suffix := range map[string]string{
		sub.NINFrontImage: "_front.png",
		sub.NINBackImage:  "_back.png",
		sub.SelfieImage:   "_selfie.png",
	} {
		if !strings.HasPrefix(path, testUploadDir+"/") {
			t.Fatalf("stored path %q not under %q", path, testUploadDir)
		}
		if !strings.HasSuffix(path, suffix) {
			t.Fatalf("stored path %q missing original filename suffix %q", path, suffix)
		}
		// Must carry a generated prefix, not the bare original name.
		if path == testUploadDir+"/"+strings.TrimPrefix(suffix, "_") {
			t.Fatalf("stored path %q lacks a unique prefix", path)
		}
		if _, ok := docs.objects[path]; !ok {
			t.Fatalf("recorded path %q has no stored object", path)
		}
	}
}

func TestSubmitDuplicate(t *testing.T) {
	repo := newFakeKYCRepo()
	router := newKYCRouter(repo, newFakeDocStore())

	first := buildSubmitRequest(t, defaultSubmitForm())
	first.Header.Set("Authorization", authHeader(t, "kyc@example.com"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first submit status = %d", rec.Code)
	}

	second := buildSubmitRequest(t, defaultSubmitForm())
	second.Header.Set("Authorization", authHeader(t, "kyc@example.com"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, second)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second submit status = %d, want 400", rec.Code)
	}
	if got := errorDetail(t, rec); got != "KYC already submitted" {
		t.Fatalf("detail = %q", got)
	}
}

func TestSubmitDuplicateFromConstraint(t *testing.T) {
	// The pre-check passes but the insert hits the unique constraint,
	// as happens when two submissions race.
	repo := newFakeKYCRepo()
	repo.skipPreCheck = true
	repo.createErr = store.ErrDuplicate
	router := newKYCRouter(repo, newFakeDocStore())

	req := buildSubmitRequest(t, defaultSubmitForm())
	req.Header.Set("Authorization", authHeader(t, "kyc@example.com"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := errorDetail(t, rec); got != "KYC already submitted" {
		t.Fatalf("detail = %q", got)
	}
}

func TestStatus(t *testing.T) {
	repo := newFakeKYCRepo()
	router := newKYCRouter(repo, newFakeDocStore())

	getStatus := func() (int, string) {
		req := httptest.NewRequest(http.MethodGet, "/kyc/status", nil)
		req.Header.Set("Authorization", authHeader(t, "kyc@example.com"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		var resp StatusResponse
		if rec.Code == http.StatusOK {
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode status response: %v", err)
			}
		}
		return rec.Code, resp.Status
	}

	if code, status := getStatus(); code != http.StatusOK || status != types.StatusNotSubmitted {
		t.Fatalf("before submit: code = %d, status = %q", code, status)
	}

	req := buildSubmitRequest(t, defaultSubmitForm())
	req.Header.Set("Authorization", authHeader(t, "kyc@example.com"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d", rec.Code)
	}

	if code, status := getStatus(); code != http.StatusOK || status != types.StatusPending {
		t.Fatalf("after submit: code = %d, status = %q", code, status)
	}

	// The review pipeline flips the row; status reflects it verbatim.
	sub := repo.subs["kyc@example.com"]
	sub.Status = types.StatusApproved
	repo.subs["kyc@example.com"] = sub
	if code, status := getStatus(); code != http.StatusOK || status != types.StatusApproved {
		t.Fatalf("after approval: code = %d, status = %q", code, status)
	}
}

func TestStatusRequiresAuth(t *testing.T) {
	router := newKYCRouter(newFakeKYCRepo(), newFakeDocStore())

	req := httptest.NewRequest(http.MethodGet, "/kyc/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
