// Package contentstore keeps canonical certificate payloads in content-addressed
// storage. The address returned by Put is the content hash recorded on the ledger.
package contentstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

//go:generate mockgen -source=contentstore.go -destination=mocks/mocks.go -package=mocks Client

var (
	ErrUnreachable = errors.New("content store unreachable")
	ErrNotFound    = errors.New("content not found")
	// ErrCorrupt means the bytes read back do not hash to the requested address.
	ErrCorrupt = errors.New("content does not match address")
)

// Client stores and fetches immutable payloads by content hash.
type Client interface {
	Put(ctx context.Context, payload []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
}

// Address computes the CIDv1 (raw codec, sha2-256) of payload.
func Address(payload []byte) (string, error) {
	mh, err := multihash.Sum(payload, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// VerifyAddress checks payload against a CID string of any version.
func VerifyAddress(hash string, payload []byte) error {
	c, err := cid.Decode(hash)
	if err != nil {
		return fmt.Errorf("%w: %q is not a content address", ErrNotFound, hash)
	}
	sum, err := c.Prefix().Sum(payload)
	if err != nil {
		return fmt.Errorf("rehash payload: %w", err)
	}
	if !sum.Equals(c) {
		return ErrCorrupt
	}
	return nil
}
