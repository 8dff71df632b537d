package models

import (
	"time"

	id "certledger/pkg/domain"
	dErrors "certledger/pkg/domain-errors"
)

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
	RequestStatusIssued   RequestStatus = "ISSUED"
)

// CanTransitionTo encodes the request lifecycle:
// PENDING -> APPROVED | REJECTED, APPROVED -> ISSUED. REJECTED and ISSUED are terminal.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case RequestStatusPending:
		return next == RequestStatusApproved || next == RequestStatusRejected
	case RequestStatusApproved:
		return next == RequestStatusIssued
	default:
		return false
	}
}

// CertificateRequest is a student's ask for a certificate from one institute.
//
// Invariants:
//   - Status only moves forward along the lifecycle above
//   - A REJECTED or ISSUED request is never re-approved
type CertificateRequest struct {
	ID              id.CertificateRequestID `json:"id"`
	StudentID       id.UserID               `json:"student_id"`
	InstituteID     id.UserID               `json:"institute_id"`
	CertificateType string                  `json:"certificate_type"`
	Course          string                  `json:"course,omitempty"`
	Department      string                  `json:"department,omitempty"`
	Year            string                  `json:"year,omitempty"`
	Status          RequestStatus           `json:"status"`
	RejectionReason string                  `json:"rejection_reason,omitempty"`
	ApprovedAt      *time.Time              `json:"approved_at,omitempty"`
	IssuedAt        *time.Time              `json:"issued_at,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

func (r *CertificateRequest) transition(next RequestStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "request cannot move from %s to %s", r.Status, next)
	}
	r.Status = next
	r.UpdatedAt = now
	return nil
}

// Approve moves a pending request to APPROVED.
func (r *CertificateRequest) Approve(now time.Time) error {
	if err := r.transition(RequestStatusApproved, now); err != nil {
		return err
	}
	r.ApprovedAt = &now
	return nil
}

// Reject moves a pending request to REJECTED with a reason.
func (r *CertificateRequest) Reject(reason string, now time.Time) error {
	if err := r.transition(RequestStatusRejected, now); err != nil {
		return err
	}
	r.RejectionReason = reason
	return nil
}

// CanMarkIssued checks the request is APPROVED.
func (r *CertificateRequest) CanMarkIssued() error {
	if !r.Status.CanTransitionTo(RequestStatusIssued) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "request cannot move from %s to %s", r.Status, RequestStatusIssued)
	}
	return nil
}

// MarkIssued moves an approved request to ISSUED.
func (r *CertificateRequest) MarkIssued(now time.Time) error {
	if err := r.transition(RequestStatusIssued, now); err != nil {
		return err
	}
	r.IssuedAt = &now
	return nil
}
