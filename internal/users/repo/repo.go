package usersrepo

import (
	"context"
	"fmt"
	"sync"

	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
)

// Roster is the in-memory profile provider. The platform's user service owns
// the real records; the chat backend only needs id, name and role.
type Roster struct {
	mu    sync.RWMutex
	users map[int64]userdomain.User
}

func New(users ...userdomain.User) *Roster {
	r := &Roster{users: make(map[int64]userdomain.User, len(users))}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

// Seed is the demo roster used by the local environment.
func Seed() *Roster {
	return New(
		userdomain.User{ID: 1, Name: "Roman Potapov", Role: userdomain.RoleAdmin},
		userdomain.User{ID: 2, Name: "Anna Teacher", Role: userdomain.RoleTeacher},
		userdomain.User{ID: 3, Name: "Ivan Student", Role: userdomain.RoleStudent},
		userdomain.User{ID: 4, Name: "Olga Parent", Role: userdomain.RoleParent},
		userdomain.User{ID: 5, Name: "Maria Student", Role: userdomain.RoleStudent},
	)
}

func (r *Roster) Put(u userdomain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
}

func (r *Roster) GetUser(ctx context.Context, id int64) (userdomain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return userdomain.User{}, fmt.Errorf("users.GetUser %d: %w", id, userdomain.ErrUserNotFound)
	}
	return u, nil
}

func (r *Roster) GetUsers(ctx context.Context, ids []int64) ([]userdomain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]userdomain.User, 0, len(ids))
	for _, id := range ids {
		u, ok := r.users[id]
		if !ok {
			return nil, fmt.Errorf("users.GetUsers %d: %w", id, userdomain.ErrUserNotFound)
		}
		result = append(result, u)
	}
	return result, nil
}
