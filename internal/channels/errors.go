package channels

import (
	"github.com/kgellert/hodatay-classroom/internal/errs"
)

var (
	ErrChannelNotFound   = errs.NotFound("channel_not_found", "channel not found")
	ErrEmptyName         = errs.Validation("empty_channel_name", "channel name is required")
	ErrEmptyParticipants = errs.Validation("empty_participants", "no participants provided")
	ErrUnknownRole       = errs.Validation("unknown_role", "unknown role")
	ErrChannelExists     = errs.Conflict("channel_exists", "channel with this name already exists")
	ErrCannotManage      = errs.Unauthorized("cannot_manage_channel", "not allowed to manage this channel")
	ErrAccessDenied      = errs.Unauthorized("channel_access_denied", "no access to this channel")
)
