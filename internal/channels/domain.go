package channels

import (
	"context"
	"slices"
	"strings"
	"time"

	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
)

type Channel struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	MemberIDs   []int64         `json:"memberIds" db:"member_ids"`
	OpenToRole  userdomain.Role `json:"openToRole,omitempty" db:"open_to_role"`
	UnreadCount int64           `json:"unreadCount" db:"unread_count"`
	CreatedBy   int64           `json:"createdBy" db:"created_by"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// NormalizedName is the form reserved keywords are compared against.
func (c Channel) NormalizedName() string {
	return NormalizeName(c.Name)
}

func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "#")))
}

func (c Channel) HasMember(userID int64) bool {
	return slices.Contains(c.MemberIDs, userID)
}

type CreateChannelRequest struct {
	Name       string          `json:"name"`
	MemberIDs  []int64         `json:"memberIds"`
	OpenToRole userdomain.Role `json:"openToRole,omitempty"`
}

type InviteMembersRequest struct {
	UserIDs []int64 `json:"userIds"`
}

type GetChannelsResponse struct {
	Channels []Channel `json:"channels"`
}

type GetChannelResponse struct {
	Channel Channel `json:"channel"`
}

type Repo interface {
	CreateChannel(ctx context.Context, ch Channel) (Channel, error)
	GetChannel(ctx context.Context, id string) (Channel, error)
	ListChannels(ctx context.Context, viewerID int64) ([]Channel, error)
	AddMembers(ctx context.Context, id string, userIDs []int64) (Channel, error)
	MarkRead(ctx context.Context, id string, userID int64, at time.Time) error
}

// UniquePositive drops duplicates and non-positive ids, keeping order.
func UniquePositive(input []int64) []int64 {
	seen := make(map[int64]bool)
	result := []int64{}

	for _, v := range input {
		if v <= 0 {
			continue
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		result = append(result, v)
	}
	return result
}
