// Package sha256 computes artifact digests for saved-judgment notifications.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

var _ crawler.Hasher = (*Hasher)(nil)

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
