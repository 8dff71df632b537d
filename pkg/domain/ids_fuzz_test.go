package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseUserID tests that parsing never panics on arbitrary input
// and always returns either a valid ID or an error.
func FuzzParseUserID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseUserID(input)
		if err == nil {
			roundTrip, err2 := ParseUserID(id.String())
			if err2 != nil {
				t.Errorf("Valid ID failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("Round-trip changed ID value")
			}
		}
		if !utf8.ValidString(input) && err == nil {
			t.Error("Non-UTF8 input was accepted")
		}
	})
}

// FuzzParseCertificateID checks that accepted identifiers round-trip unchanged.
func FuzzParseCertificateID(f *testing.F) {
	f.Add("CERT-9F1C2B3A4D5E6F708192A3B4C5D6E7F8")
	f.Add("")
	f.Add("CERT 1")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseCertificateID(input)
		if err != nil {
			return
		}
		if id.String() != input {
			t.Errorf("accepted ID changed: %q -> %q", input, id)
		}
		if len(input) > maxCertificateIDLength {
			t.Error("oversized ID was accepted")
		}
	})
}
