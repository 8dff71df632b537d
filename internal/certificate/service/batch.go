package service

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"certledger/internal/certificate/models"
	dErrors "certledger/pkg/domain-errors"
	"certledger/pkg/platform/sentinel"
)

// itemOutcome is one batch item's result, kept at its input position.
type itemOutcome struct {
	success *models.BatchSuccess
	failure *models.BatchFailure
}

// IssueMany issues every item independently on a bounded worker pool. Each
// item is resolved to a student by roll number within the institute. The
// result partitions items into successes and failures; it never fails as a whole.
func (s *Service) IssueMany(ctx context.Context, req models.BatchRequest) *models.BatchResult {
	ctx, span := s.tracer.Start(ctx, "certificate.issue_many")
	defer span.End()
	s.metrics.ObserveBatchSize(len(req.Items))

	outcomes := make([]itemOutcome, len(req.Items))
	var g errgroup.Group
	g.SetLimit(s.cfg.BatchWorkers)
	for i, item := range req.Items {
		g.Go(func() error {
			outcomes[i] = s.issueItem(ctx, req, item)
			return nil
		})
	}
	_ = g.Wait()

	result := &models.BatchResult{
		Succeeded: make([]models.BatchSuccess, 0, len(req.Items)),
		Failed:    make([]models.BatchFailure, 0),
	}
	for _, o := range outcomes {
		if o.success != nil {
			result.Succeeded = append(result.Succeeded, *o.success)
		} else {
			result.Failed = append(result.Failed, *o.failure)
		}
	}
	s.logger.InfoContext(ctx, "batch issuance finished",
		"institute_id", req.InstituteID,
		"total", result.Total(),
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
	)
	return result
}

func (s *Service) issueItem(ctx context.Context, req models.BatchRequest, item models.BatchItem) itemOutcome {
	if err := s.validate.Struct(item); err != nil {
		return failed(item.RollNumber, validationError(err))
	}

	student, err := s.users.FindStudentByRollNumber(ctx, req.InstituteID, item.RollNumber)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return failed(item.RollNumber, dErrors.Newf(dErrors.CodeNotFound, "no student with roll number %s", item.RollNumber))
		}
		return failed(item.RollNumber, persistenceError(err, "failed to resolve roll number %s", item.RollNumber))
	}

	res, err := s.IssueOne(ctx, models.IssuanceIntent{
		InstituteID:     req.InstituteID,
		StudentID:       student.ID,
		CertificateType: item.CertificateType,
		Course:          item.Course,
		Department:      item.Department,
		Year:            item.Year,
		RollNumber:      item.RollNumber,
		StudentName:     item.StudentName,
		Grade:           item.Grade,
		CGPA:            item.CGPA,
		IssueDate:       item.IssueDate,
	})
	if err != nil {
		o := failed(item.RollNumber, err)
		if res != nil {
			// permanently rejected by the ledger but recorded as FAILED
			o.failure.CertificateID = res.Certificate.CertificateID
		}
		return o
	}
	return itemOutcome{success: &models.BatchSuccess{
		RollNumber:  item.RollNumber,
		Certificate: res.Certificate,
		Warnings:    res.Warnings,
	}}
}

func failed(rollNumber string, err error) itemOutcome {
	f := &models.BatchFailure{
		RollNumber: rollNumber,
		Code:       dErrors.CodeOf(err),
		Message:    err.Error(),
		Err:        err,
	}
	if de, ok := dErrors.From(err); ok {
		f.Message = de.Message
	}
	var retry *models.RetryableError
	if errors.As(err, &retry) {
		f.CertificateID = retry.CertificateID
		issuedAt := retry.IssuedAt
		f.IssuedAt = &issuedAt
	}
	return itemOutcome{failure: f}
}
