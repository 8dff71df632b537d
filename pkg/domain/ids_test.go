package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certledger/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseUserID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseUserID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseCertificateRequestID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseUserID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, UserID(validUUID), id)
	})
}

// TestParseCertificateID_TrustBoundary rejects identifiers that could not
// have been minted by the generator before they reach a store query.
func TestParseCertificateID_TrustBoundary(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE certificates;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "CERT-1\x00", true},
		{"Oversized input", strings.Repeat("A", 100), true},
		{"Empty string", "", true},
		{"Leading dash", "-CERT", true},
		{"Generated shape", "CERT-9F1C2B3A4D5E6F708192A3B4C5D6E7F8", false},
		{"Legacy timestamp shape", "CERT-1700000000000-k3j9x2m1q", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCertificateID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestTxReference(t *testing.T) {
	ref := "0x" + strings.Repeat("AB", 32)
	assert.True(t, IsTxReference(ref))
	assert.False(t, IsTxReference("CERT-1"))
	assert.False(t, IsTxReference("0x1234"))

	parsed, err := ParseTxReference(ref)
	require.NoError(t, err)
	assert.Equal(t, TxReference(strings.ToLower(ref)), parsed)
}

func TestUserIDJSON(t *testing.T) {
	u := UserID(uuid.MustParse("6f1c2b3a-4d5e-4f70-8192-a3b4c5d6e7f8"))
	raw, err := json.Marshal(struct {
		ID UserID `json:"id"`
	}{u})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"6f1c2b3a-4d5e-4f70-8192-a3b4c5d6e7f8"}`, string(raw))

	var back struct {
		ID UserID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, u, back.ID)
}
