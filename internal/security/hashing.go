package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to 4–31. Zero or
// negative selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	return &Hasher{Cost: clampCost(cost)}
}

func clampCost(cost int) int {
	if cost <= 0 {
		return bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		return bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		return bcrypt.MaxCost
	}
	return cost
}

// Hash produces a salted bcrypt digest of password suitable for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies password against the stored hash in constant time. Returns nil if
// they match; bcrypt.ErrMismatchedHashAndPassword or a parse error otherwise.
func (h *Hasher) Compare(hash string, password []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), password)
}

// Matches is Compare as a boolean.
func (h *Hasher) Matches(hash string, password []byte) bool {
	return h.Compare(hash, password) == nil
}

// NeedsRehash reports whether hash was produced with a cost other than targetCost
// (or cannot be parsed at all).
func (h *Hasher) NeedsRehash(hash string, targetCost int) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost != clampCost(targetCost)
}
