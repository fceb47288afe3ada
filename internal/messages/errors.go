package messages

import (
	"github.com/kgellert/hodatay-classroom/internal/errs"
)

var (
	ErrTextOrAttachmentsIsRequired = errs.Validation("text_or_attachments_required", "text or attachments is required")
	ErrTooManyAttachments          = errs.Validation("too_many_attachments", "too many attachments")
	ErrTextTooLong                 = errs.Validation("text_too_long", "text is too long")
	ErrEmojiIsRequired             = errs.Validation("emoji_required", "emoji is required")
	ErrInvalidConversation         = errs.Validation("invalid_conversation", "conversation reference is invalid")
	ErrMessageNotFound             = errs.NotFound("message_not_found", "message not found")
	ErrNotAuthor                   = errs.Unauthorized("not_author", "only the author can change this message")
	ErrNotParticipant              = errs.Unauthorized("not_participant", "not a participant of this conversation")
)
