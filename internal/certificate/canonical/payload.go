// Package canonical builds the deterministic certificate payload whose
// content-store address becomes the certificate's content hash.
package canonical

import (
	"bytes"
	"encoding/json"
	"time"

	"certledger/internal/certificate/models"
)

// TimeLayout renders instants in UTC with millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Version is bumped whenever the field set or encoding changes.
const Version = 1

// Payload is the canonical certificate document. Field order is fixed by the
// struct; all timestamps are pre-formatted strings so encoding never depends
// on the zone or precision of a time.Time.
type Payload struct {
	Version         int    `json:"version"`
	CertificateID   string `json:"certificateId"`
	StudentID       string `json:"studentId"`
	StudentName     string `json:"studentName"`
	RollNumber      string `json:"rollNumber"`
	WalletAddress   string `json:"walletAddress"`
	CertificateType string `json:"certificateType"`
	Course          string `json:"course"`
	Department      string `json:"department"`
	Year            string `json:"year"`
	Grade           string `json:"grade"`
	CGPA            string `json:"cgpa"`
	IssueDate       string `json:"issueDate"`
	InstituteID     string `json:"instituteId"`
	IssuedAt        string `json:"issuedAt"`
}

// Build derives the payload from a certificate about to be issued.
func Build(c *models.Certificate, walletAddress string) Payload {
	return Payload{
		Version:         Version,
		CertificateID:   c.CertificateID.String(),
		StudentID:       c.StudentID.String(),
		StudentName:     c.Metadata.StudentName,
		RollNumber:      c.Metadata.RollNumber,
		WalletAddress:   walletAddress,
		CertificateType: c.Metadata.CertificateType,
		Course:          c.Metadata.Course,
		Department:      c.Metadata.Department,
		Year:            c.Metadata.Year,
		Grade:           c.Metadata.Grade,
		CGPA:            c.Metadata.CGPA,
		IssueDate:       FormatTime(c.Metadata.IssueDate),
		InstituteID:     c.InstituteID.String(),
		IssuedAt:        FormatTime(c.IssuedAt),
	}
}

// Bytes encodes the payload as compact JSON without HTML escaping and without
// a trailing newline.
func (p Payload) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// FormatTime renders t in the canonical layout.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(TimeLayout)
}

// Normalize truncates t the same way FormatTime does, so values stored in the
// database re-serialize to the same payload.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
