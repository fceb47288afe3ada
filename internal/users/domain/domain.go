package userdomain

import (
	"context"
	"errors"

	"github.com/kgellert/hodatay-classroom/internal/errs"
)

var ErrUserNotFound = errs.NotFound("user_not_found", "user not found")

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
)

// Keyword is the reserved channel name open to every user of the role.
func (r Role) Keyword() string {
	switch r {
	case RoleStudent:
		return "students"
	case RoleParent:
		return "parents"
	case RoleTeacher:
		return "teachers"
	}
	return ""
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent:
		return true
	}
	return false
}

// CanManageChannels reports whether the role may invite members into any channel.
func (r Role) CanManageChannels() bool {
	return r == RoleAdmin || r == RoleTeacher
}

type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

type SignInResponse struct {
	User User `json:"user"`
}

type Repo interface {
	GetUser(ctx context.Context, id int64) (User, error)
	GetUsers(ctx context.Context, ids []int64) ([]User, error)
}

func IsNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
