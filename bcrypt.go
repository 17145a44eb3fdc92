package auth

import (
	"context"
	"runtime"

	"github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// BcryptHasher hashes passwords with bcrypt. The number of concurrent hash
// computations is bounded so CPU bound work can not starve request handling.
type BcryptHasher struct {
	cost int
	sem  *semaphore.Weighted
}

var _ PasswordHasher = (*BcryptHasher)(nil)

// NewBcryptHasher creates a hasher. A non positive cost uses the default
// cost and a non positive concurrency uses GOMAXPROCS.
func NewBcryptHasher(cost, concurrency int) *BcryptHasher {
	if cost <= 0 {
		cost = passwordHashCost()
	}

	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	return &BcryptHasher{
		cost: cost,
		sem:  semaphore.NewWeighted(int64(concurrency)),
	}
}

// NewBcryptHasherFromConfig creates a hasher using the auth config
func NewBcryptHasherFromConfig(cfg Config) *BcryptHasher {
	return NewBcryptHasher(cfg.GetPasswordCost(), cfg.GetHashConcurrency())
}

// Cost returns the bcrypt work factor
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash will generate a password hash
func (h *BcryptHasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to hash password").
			WithCode(errors.CodeInternal).
			WithStackTrace()
	}

	return string(out), nil
}

// Compare will validate the given cleartext password matches the hashed
// password. Mismatches return ErrMismatchedHashAndPassword.
func (h *BcryptHasher) Compare(ctx context.Context, password, hash string) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.sem.Release(1)

	return ComparePasswordAndHash(password, hash)
}

func (h *BcryptHasher) acquire(ctx context.Context) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "password hashing cancelled").
			WithCode(errors.CodeInternal)
	}
	return nil
}

// HashPassword will generate a password hash using the default cost
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost())
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return errors.Wrap(err, errors.CategoryInternal, "failed to compare password hash").
			WithCode(errors.CodeInternal).
			WithStackTrace()
	}
	return nil
}
