package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/iwc-exchange/apiserver/internal/services"
)

const (
	maxMultipartMemory = 32 << 20
	maxDocumentBytes   = 10 << 20

	formFieldBVN     = "bvn"
	formFieldNIN     = "nin"
	formFieldAddress = "address"
	formFileNINFront = "nin_front"
	formFileNINBack  = "nin_back"
	formFileSelfie   = "selfie"
)

// KYCHandler provides HTTP handlers for the KYC workflow.
type KYCHandler struct {
	kycService *services.KYCService
}

// NewKYCHandler constructs a handler with the provided service.
func NewKYCHandler(kycService *services.KYCService) *KYCHandler {
	return &KYCHandler{kycService: kycService}
}

// KYCRouter registers KYC routes on the given router. All routes
// require a resolved identity.
func KYCRouter(r chi.Router, kycService *services.KYCService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewKYCHandler(kycService)

	r.Use(authMiddleware)
	r.Post("/submit", handler.Submit)
	r.Get("/status", handler.Status)
}

// Submit accepts a multipart KYC submission for the authenticated user.
func (h *KYCHandler) Submit(w http.ResponseWriter, r *http.Request) {
	email, err := emailFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, detailNotAuthenticated)
		return
	}

	input, err := parseSubmitForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.kycService.Submit(r.Context(), email, input); err != nil {
		if services.IsValidationError(err) || errors.Is(err, services.ErrAlreadySubmitted) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, detailServerError)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "KYC submitted successfully"})
}

// Status reports the review state of the authenticated user's
// submission.
func (h *KYCHandler) Status(w http.ResponseWriter, r *http.Request) {
	email, err := emailFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, detailNotAuthenticated)
		return
	}

	status, err := h.kycService.Status(r.Context(), email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, detailServerError)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: status})
}

// StatusResponse is the KYC status payload.
type StatusResponse struct {
	Status string `json:"status"`
}

func parseSubmitForm(r *http.Request) (services.SubmissionInput, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return services.SubmissionInput{}, errors.New("Invalid multipart form")
	}

	ninFront, err := parseDocumentFile(r.MultipartForm, formFileNINFront)
	if err != nil {
		return services.SubmissionInput{}, err
	}
	ninBack, err := parseDocumentFile(r.MultipartForm, formFileNINBack)
	if err != nil {
		return services.SubmissionInput{}, err
	}
	selfie, err := parseDocumentFile(r.MultipartForm, formFileSelfie)
	if err != nil {
		return services.SubmissionInput{}, err
	}

	return services.SubmissionInput{
		BVN:      strings.TrimSpace(r.FormValue(formFieldBVN)),
		NIN:      strings.TrimSpace(r.FormValue(formFieldNIN)),
		Address:  r.FormValue(formFieldAddress),
		NINFront: ninFront,
		NINBack:  ninBack,
		Selfie:   selfie,
	}, nil
}

func parseDocumentFile(form *multipart.Form, field string) (services.Document, error) {
	if form == nil {
		return services.Document{}, errors.New("Missing form data")
	}

	files := form.File[field]
	if len(files) == 0 {
		return services.Document{}, errors.New(field + " file is required")
	}
	if len(files) > 1 {
		return services.Document{}, errors.New("only one " + field + " file is allowed")
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return services.Document{}, errors.New("failed to read " + field + " file")
	}

	data, err := readFileLimited(file, maxDocumentBytes)
	_ = file.Close()
	if err != nil {
		return services.Document{}, err
	}

	return services.Document{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
