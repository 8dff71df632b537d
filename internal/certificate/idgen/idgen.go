// Package idgen generates certificate identifiers.
package idgen

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	id "certledger/pkg/domain"
)

// Prefix starts every generated certificate identifier.
const Prefix = "CERT-"

// Generator produces certificate identifiers.
type Generator interface {
	NewCertificateID() id.CertificateID
}

// Random generates CERT- followed by the 32 upper-case hex digits of a v4 UUID.
// Collisions are not checked here; the store's unique index is the only
// arbiter and a violation surfaces as a conflict.
type Random struct{}

func (Random) NewCertificateID() id.CertificateID {
	u := uuid.Must(uuid.NewRandom())
	return id.CertificateID(Prefix + strings.ToUpper(strings.ReplaceAll(u.String(), "-", "")))
}

// NewCertificateID is a convenience for Random{}.NewCertificateID().
func NewCertificateID() id.CertificateID {
	return Random{}.NewCertificateID()
}

// Sequence yields prefix-0001, prefix-0002, ... for deterministic tests.
type Sequence struct {
	prefix string
	n      atomic.Int64
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) NewCertificateID() id.CertificateID {
	return id.CertificateID(fmt.Sprintf("%s-%04d", s.prefix, s.n.Add(1)))
}

// Fixed always returns the same identifiers in order, then repeats the last one.
type Fixed struct {
	ids []id.CertificateID
	i   atomic.Int64
}

func NewFixed(ids ...id.CertificateID) *Fixed {
	return &Fixed{ids: ids}
}

func (f *Fixed) NewCertificateID() id.CertificateID {
	i := int(f.i.Add(1)) - 1
	if i >= len(f.ids) {
		i = len(f.ids) - 1
	}
	return f.ids[i]
}
