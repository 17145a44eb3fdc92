package auth

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// UserProvider resolves users from credentials and token subjects
type UserProvider struct {
	store  UserStore
	hasher PasswordHasher
	logger Logger

	dummyMu   sync.Mutex
	dummyHash string
}

var _ IdentityProvider = (*UserProvider)(nil)

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserStore, hasher PasswordHasher) *UserProvider {
	if hasher == nil {
		hasher = NewBcryptHasher(0, 0)
	}
	return &UserProvider{
		store:  store,
		hasher: hasher,
		logger: defLogger{},
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	u.logger = normalizeLogger(l)
	return u
}

// VerifyIdentity will find the user, compare to the password, and return
// the user. Unknown emails and wrong passwords yield the same error.
func (u *UserProvider) VerifyIdentity(ctx context.Context, email, password string) (*User, error) {
	user, err := u.store.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if IsNotFound(err) {
			// keep the response time of unknown emails close to known ones
			u.compareDummy(ctx, password)
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}

	if err := u.hasher.Compare(ctx, password, user.PasswordHash); err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	return user, nil
}

// FindIdentityByID re-reads a user for a token subject. Missing users are
// reported as ErrIdentityGone and inactive ones as ErrAccountInactive.
func (u *UserProvider) FindIdentityByID(ctx context.Context, id string) (*User, error) {
	user, err := u.store.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrIdentityGone
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve token user")
	}

	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	return user, nil
}

func (u *UserProvider) compareDummy(ctx context.Context, password string) {
	hash := u.dummy()
	if hash == "" {
		return
	}

	_ = u.hasher.Compare(ctx, password, hash)
}

// dummy lazily builds the hash compared against for unknown emails. It is
// detached from any request context and retried until it succeeds.
func (u *UserProvider) dummy() string {
	u.dummyMu.Lock()
	defer u.dummyMu.Unlock()

	if u.dummyHash != "" {
		return u.dummyHash
	}

	hash, err := u.hasher.Hash(context.Background(), uuid.NewString())
	if err != nil {
		u.logger.Warn("failed to build dummy password hash", "error", err)
		return ""
	}
	u.dummyHash = hash
	return hash
}
