package user

import (
	"context"
	"errors"

	"github.com/prettydl/prettydl/internal/store"
)

// ErrUserNotFound is returned when a user record is not found.
var ErrUserNotFound = errors.New("user not found")

// Repository provides access to the users collection.
type Repository interface {
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, username string) (*User, error)
	// Mutate applies fn to the full user list atomically. Nothing is written
	// when fn returns an error.
	Mutate(ctx context.Context, fn func(users []User) ([]User, error)) error
}

type storeRepository struct {
	coll *store.Collection[User]
}

// NewRepository returns a Repository backed by the record store.
func NewRepository(backend store.Backend) Repository {
	return &storeRepository{coll: store.NewCollection[User](backend, "users")}
}

func (r *storeRepository) List(ctx context.Context) ([]User, error) {
	return r.coll.Load(ctx)
}

func (r *storeRepository) Get(ctx context.Context, username string) (*User, error) {
	users, err := r.coll.Load(ctx)
	if err != nil {
		return nil, err
	}
	i := indexOf(users, username)
	if i < 0 {
		return nil, ErrUserNotFound
	}
	return &users[i], nil
}

func (r *storeRepository) Mutate(ctx context.Context, fn func([]User) ([]User, error)) error {
	return r.coll.Update(ctx, fn)
}

func indexOf(users []User, username string) int {
	for i := range users {
		if users[i].Username == username {
			return i
		}
	}
	return -1
}
