// Package access decides whether a user may see a channel at all. It runs
// before any history fetch or subscription, on both the client and the server.
package access

import (
	"github.com/kgellert/hodatay-classroom/internal/channels"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
)

// GeneralChannel is open to every authenticated user.
const GeneralChannel = "general"

// CanAccess evaluates the rules in order, first match wins:
// admins see everything, "general" is open to all, a role keyword channel
// is open to that role, anything else needs explicit membership.
func CanAccess(user userdomain.User, ch channels.Channel) bool {
	if user.ID <= 0 {
		return false
	}

	if user.IsAdmin() {
		return true
	}

	name := ch.NormalizedName()
	if name == GeneralChannel {
		return true
	}

	if kw := user.Role.Keyword(); kw != "" && name == kw {
		return true
	}

	if ch.OpenToRole != "" && ch.OpenToRole == user.Role {
		return true
	}

	return ch.HasMember(user.ID)
}

// Filter keeps the channels the user can access, preserving order.
func Filter(user userdomain.User, list []channels.Channel) []channels.Channel {
	out := make([]channels.Channel, 0, len(list))
	for _, ch := range list {
		if CanAccess(user, ch) {
			out = append(out, ch)
		}
	}
	return out
}

// IsReserved reports whether a channel name is one of the keyword channels.
func IsReserved(name string) bool {
	switch channels.NormalizeName(name) {
	case GeneralChannel,
		userdomain.RoleStudent.Keyword(),
		userdomain.RoleParent.Keyword(),
		userdomain.RoleTeacher.Keyword():
		return true
	}
	return false
}
