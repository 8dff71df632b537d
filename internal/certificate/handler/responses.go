package handler

import (
	"time"

	"certledger/internal/certificate/models"
	id "certledger/pkg/domain"
)

// IssueResponse is returned for a committed issuance.
type IssueResponse struct {
	Message         string                         `json:"message"`
	Certificate     *models.Certificate            `json:"certificate"`
	TransactionHash id.TxReference                 `json:"transaction_hash,omitempty"`
	LedgerReplayed  bool                           `json:"ledger_replayed,omitempty"`
	Warnings        []models.ReconciliationWarning `json:"warnings,omitempty"`
}

// RetryResponse tells the caller which identifier to reuse on retry.
type RetryResponse struct {
	Error            string           `json:"error"`
	ErrorDescription string           `json:"error_description,omitempty"`
	CertificateID    id.CertificateID `json:"certificate_id"`
	IssuedAt         time.Time        `json:"issued_at"`
}

// LedgerRejectedResponse reports a certificate recorded as FAILED.
type LedgerRejectedResponse struct {
	Error            string              `json:"error"`
	ErrorDescription string              `json:"error_description,omitempty"`
	Certificate      *models.Certificate `json:"certificate"`
}

// BulkIssueResponse summarizes a bulk issuance.
type BulkIssueResponse struct {
	Message    string                `json:"message"`
	Successful int                   `json:"successful"`
	Failed     int                   `json:"failed"`
	Results    []models.BatchSuccess `json:"results"`
	Errors     []models.BatchFailure `json:"errors"`
}

// RevokeResponse is returned after a revocation, including an idempotent repeat.
type RevokeResponse struct {
	Message     string              `json:"message"`
	Certificate *models.Certificate `json:"certificate"`
}

// VerifyResponse is the public verification view.
type VerifyResponse struct {
	*models.VerificationResult
	Message string `json:"message,omitempty"`
}

func toBulkResponse(result *models.BatchResult) BulkIssueResponse {
	return BulkIssueResponse{
		Message:    "bulk issuance completed",
		Successful: len(result.Succeeded),
		Failed:     len(result.Failed),
		Results:    result.Succeeded,
		Errors:     result.Failed,
	}
}
