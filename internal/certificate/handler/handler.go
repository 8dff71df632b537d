// Package handler exposes certificate issuance, revocation and public
// verification over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"certledger/internal/certificate/models"
	"certledger/internal/certificate/reconcile"
	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/httputil"
	"certledger/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service,Sweeper

// Service defines the certificate operations the handler needs.
type Service interface {
	IssueOne(ctx context.Context, intent models.IssuanceIntent) (*models.IssuanceResult, error)
	IssueMany(ctx context.Context, req models.BatchRequest) *models.BatchResult
	Revoke(ctx context.Context, cmd models.RevokeCommand) (*models.Certificate, error)
	Verify(ctx context.Context, identifier string) (*models.VerificationResult, error)
	VerifyByID(ctx context.Context, certificateID string) (*models.VerificationResult, error)
	VerifyByTransaction(ctx context.Context, txReference string) (*models.VerificationResult, error)
}

// Sweeper runs one reconciliation sweep on demand.
type Sweeper interface {
	Run(ctx context.Context) (*reconcile.SweepReport, error)
}

// Handler wires certificate endpoints to the certificate service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterInstitute mounts the institute endpoints. The router must
// authenticate callers as institutes first.
func (h *Handler) RegisterInstitute(r chi.Router) {
	r.Post("/institute/certificates", h.HandleIssue)
	r.Post("/institute/certificates/bulk", h.HandleBulkIssue)
	r.Post("/institute/certificates/revoke", h.HandleRevoke)
}

// RegisterVerify mounts the public verification endpoints.
func (h *Handler) RegisterVerify(r chi.Router) {
	r.Get("/verify/certificate/{certificateId}", h.HandleVerifyByID)
	r.Get("/verify/transaction/{txHash}", h.HandleVerifyByTransaction)
	r.Get("/verify/{identifier}", h.HandleVerify)
}

// HandleIssue handles POST /institute/certificates.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	instituteID, ok := h.requireInstitute(ctx, w)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.IssueOne(ctx, models.IssuanceIntent{
		InstituteID:     instituteID,
		StudentID:       req.studentID,
		CertificateType: req.CertificateType,
		Course:          req.Course,
		Department:      req.Department,
		Year:            req.Year,
		RollNumber:      req.RollNumber,
		StudentName:     req.StudentName,
		Grade:           req.Grade,
		CGPA:            req.CGPA,
		IssueDate:       req.issueDate,
		RequestID:       req.requestID,
		CertificateID:   req.certificateID,
		IssuedAt:        req.IssuedAt,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate issuance failed",
			"request_id", requestID,
			"institute_id", instituteID,
			"student_id", req.studentID,
			"error", err,
		)
		h.writeIssueError(w, result, err)
		return
	}

	h.logger.InfoContext(ctx, "certificate issued",
		"request_id", requestID,
		"institute_id", instituteID,
		"certificate_id", result.Certificate.CertificateID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, IssueResponse{
		Message:         "certificate issued",
		Certificate:     result.Certificate,
		TransactionHash: result.Certificate.LedgerReference,
		LedgerReplayed:  result.LedgerReplayed,
		Warnings:        result.Warnings,
	})
}

// HandleBulkIssue handles POST /institute/certificates/bulk. Per-row failures
// are part of a 200 response.
func (h *Handler) HandleBulkIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	instituteID, ok := h.requireInstitute(ctx, w)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[BulkIssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	items := make([]models.BatchItem, len(req.Certificates))
	for i, c := range req.Certificates {
		items[i] = models.BatchItem{
			RollNumber:      c.RollNumber,
			CertificateType: c.CertificateType,
			Course:          c.Course,
			Department:      c.Department,
			Year:            c.Year,
			StudentName:     c.StudentName,
			Grade:           c.Grade,
			CGPA:            c.CGPA,
			IssueDate:       c.issueDate,
		}
	}
	result := h.service.IssueMany(ctx, models.BatchRequest{InstituteID: instituteID, Items: items})

	h.logger.InfoContext(ctx, "bulk issuance completed",
		"request_id", requestID,
		"institute_id", instituteID,
		"successful", len(result.Succeeded),
		"failed", len(result.Failed),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, toBulkResponse(result))
}

// HandleRevoke handles POST /institute/certificates/revoke.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	instituteID, ok := h.requireInstitute(ctx, w)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RevokeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	cert, err := h.service.Revoke(ctx, models.RevokeCommand{
		CertificateID: req.certificateID,
		Reason:        req.Reason,
		InstituteID:   instituteID,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "certificate revocation failed",
			"request_id", requestID,
			"certificate_id", req.certificateID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RevokeResponse{
		Message:     "certificate revoked",
		Certificate: cert,
	})
}

// HandleVerifyByID handles GET /verify/certificate/{certificateId}.
func (h *Handler) HandleVerifyByID(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, chi.URLParam(r, "certificateId"), h.service.VerifyByID)
}

// HandleVerifyByTransaction handles GET /verify/transaction/{txHash}.
func (h *Handler) HandleVerifyByTransaction(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, chi.URLParam(r, "txHash"), h.service.VerifyByTransaction)
}

// HandleVerify handles GET /verify/{identifier}, accepting either form.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	h.verify(w, r, chi.URLParam(r, "identifier"), h.service.Verify)
}

func (h *Handler) verify(
	w http.ResponseWriter,
	r *http.Request,
	identifier string,
	lookup func(context.Context, string) (*models.VerificationResult, error),
) {
	ctx := r.Context()
	result, err := lookup(ctx, identifier)
	if err != nil {
		h.logger.WarnContext(ctx, "verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"identifier", identifier,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if !result.Found {
		httputil.WriteJSON(w, http.StatusNotFound, VerifyResponse{
			VerificationResult: result,
			Message:            "certificate not found",
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VerifyResponse{VerificationResult: result})
}

func (h *Handler) requireInstitute(ctx context.Context, w http.ResponseWriter) (id.UserID, bool) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.UserID{}, false
	}
	return userID, true
}

// writeIssueError renders issuance failures. Retryable failures carry the
// identifier to resubmit; a ledger rejection carries the FAILED record.
func (h *Handler) writeIssueError(w http.ResponseWriter, result *models.IssuanceResult, err error) {
	var retry *models.RetryableError
	if errors.As(err, &retry) {
		code := dErrors.CodeOf(err)
		resp := RetryResponse{
			Error:         string(code),
			CertificateID: retry.CertificateID,
			IssuedAt:      retry.IssuedAt,
		}
		if de, ok := dErrors.From(err); ok {
			resp.ErrorDescription = de.Message
		}
		httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	if result != nil && dErrors.HasCode(err, dErrors.CodeLedgerPermanent) {
		resp := LedgerRejectedResponse{
			Error:       string(dErrors.CodeLedgerPermanent),
			Certificate: result.Certificate,
		}
		if de, ok := dErrors.From(err); ok {
			resp.ErrorDescription = de.Message
		}
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	httputil.WriteError(w, err)
}

// ReconcileHandler exposes the reconciliation sweep to operators.
type ReconcileHandler struct {
	sweeper Sweeper
	logger  *slog.Logger
}

func NewReconcile(sweeper Sweeper, logger *slog.Logger) *ReconcileHandler {
	return &ReconcileHandler{sweeper: sweeper, logger: logger}
}

// Register mounts the admin endpoint. The router must check the admin token.
func (h *ReconcileHandler) Register(r chi.Router) {
	r.Post("/admin/reconcile", h.HandleReconcile)
}

// HandleReconcile handles POST /admin/reconcile.
func (h *ReconcileHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.sweeper.Run(ctx)
	if err != nil && report == nil {
		httputil.WriteError(w, err)
		return
	}
	if err != nil {
		h.logger.WarnContext(ctx, "reconciliation sweep incomplete",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
