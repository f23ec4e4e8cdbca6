package eventfold

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes sensitive field values before they are persisted.
// Hashing is the one mutation the append path performs on event data.
type PasswordHasher interface {
	Hash(plain string) (string, error)
}

type bcryptHasher struct {
	cost int
}

// NewBcryptHasher returns the default PasswordHasher. A cost of 0 uses
// bcrypt.DefaultCost.
func NewBcryptHasher(cost int) PasswordHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	return &bcryptHasher{cost: cost}
}

func (h *bcryptHasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", errors.Wrap(err, "hash sensitive field")
	}

	return string(b), nil
}

// hashSensitive hashes the declared sensitive fields of the candidate's data in
// place. Fields that are absent or hold non-string values are left untouched.
func hashSensitive(c *Candidate, hasher PasswordHasher) error {
	for _, field := range c.Sensitive {
		raw, ok := c.Data[field]
		if !ok {
			continue
		}

		plain, ok := raw.(string)
		if !ok {
			continue
		}

		hashed, err := hasher.Hash(plain)
		if err != nil {
			return errors.Wrap(err, "", j.KV("field", field))
		}

		c.Data[field] = hashed
	}

	return nil
}
