package identity

import (
	"context"
	"strings"
	"sync"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository builds an in-memory user store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) || (user.Phone != "" && u.Phone == user.Phone) {
			return ErrUserExists
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByEmail(_ context.Context, email string) (User, error) {
	return r.find(func(u User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (User, error) {
	return r.find(func(u User) bool { return u.Phone == phone })
}

func (r *memoryRepository) find(match func(User) bool) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(u) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *memoryRepository) UpdateProfile(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	for id, u := range r.users {
		if id == user.ID {
			continue
		}
		if strings.EqualFold(u.Email, user.Email) || (user.Phone != "" && u.Phone == user.Phone) {
			return ErrUserExists
		}
	}
	current.Email = user.Email
	current.Phone = user.Phone
	current.FullName = user.FullName
	current.PasswordHash = user.PasswordHash
	r.users[user.ID] = current
	return nil
}

func (r *memoryRepository) SetPayoutAccount(_ context.Context, id string, account PayoutAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.PayoutAccount = &account
	user.RecipientCode = ""
	r.users[id] = user
	return nil
}

func (r *memoryRepository) SetRecipientCode(_ context.Context, id, code string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return "", ErrUserNotFound
	}
	if user.RecipientCode == "" {
		user.RecipientCode = code
		r.users[id] = user
	}
	return user.RecipientCode, nil
}
