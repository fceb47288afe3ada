package hub

import (
	"strconv"

	"github.com/kgellert/hodatay-classroom/internal/messages"
)

// InboxRoom receives every DM frame that involves the user.
func InboxRoom(userID int64) string {
	return "inbox:" + strconv.FormatInt(userID, 10)
}

// RoomsFor lists the rooms a frame for ref must be delivered to.
func RoomsFor(ref messages.ConversationRef) []string {
	if ref.IsChannel() {
		return []string{ref.Key()}
	}
	n := ref.Normalize()
	return []string{InboxRoom(n.UserA), InboxRoom(n.UserB)}
}
