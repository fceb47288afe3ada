package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kgellert/hodatay-classroom/internal/messages"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
)

type messageRow struct {
	ID        string       `db:"id"`
	ClientID  string       `db:"client_id"`
	ChannelID string       `db:"channel_id"`
	UserA     int64        `db:"user_a"`
	UserB     int64        `db:"user_b"`
	AuthorID  int64        `db:"author_id"`
	Text      string       `db:"text"`
	Edited    bool         `db:"edited"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
	DeletedAt sql.NullTime `db:"deleted_at"`
}

type attachmentRow struct {
	MessageID string `db:"message_id"`
	Filename  string `db:"filename"`
	Size      int64  `db:"size"`
	URL       string `db:"url"`
	IsImage   bool   `db:"is_image"`
}

type reactionRow struct {
	MessageID string `db:"message_id"`
	UserID    int64  `db:"user_id"`
	Emoji     string `db:"emoji"`
}

const messageColumns = `id, client_id, channel_id, user_a, user_b, author_id, text, edited, created_at, updated_at, deleted_at`

func (r messageRow) toMessage() messages.Message {
	ref := messages.ChannelRef(r.ChannelID)
	if r.ChannelID == "" {
		ref = messages.DirectRef(r.UserA, r.UserB)
	}
	return messages.Message{
		ID:           r.ID,
		ClientID:     r.ClientID,
		Conversation: ref,
		AuthorID:     r.AuthorID,
		Text:         r.Text,
		Edited:       r.Edited,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func (s *Storage) CreateMessage(ctx context.Context, msg messages.Message) (messages.Message, error) {
	const op = "storage.postgres.CreateMessage"

	u, err := uuid.NewV7()
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: id: %w", op, err)
	}

	ref := msg.Conversation.Normalize()
	msg.ID = u.String()
	msg.Conversation = ref
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.UpdatedAt = msg.CreatedAt
	msg.Reactions = nil
	msg.Status = messages.StatusConfirmed

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, client_id, conversation_key, channel_id, user_a, user_b, author_id, text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, msg.ID, msg.ClientID, ref.Key(), ref.ChannelID, ref.UserA, ref.UserB, msg.AuthorID, msg.Text, msg.CreatedAt)
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: insert message: %w", op, err)
	}

	for i, att := range msg.Attachments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (message_id, position, filename, size, url, is_image)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, msg.ID, i, att.Filename, att.Size, att.URL, att.IsImage)
		if err != nil {
			return messages.Message{}, fmt.Errorf("%s: insert attachment: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return messages.Message{}, fmt.Errorf("%s: commit tx: %w", op, err)
	}

	return msg, nil
}

func (s *Storage) GetMessage(ctx context.Context, id string) (messages.Message, error) {
	const op = "storage.postgres.GetMessage"

	var row messageRow
	err := s.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id = $1 AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return messages.Message{}, fmt.Errorf("%s: %w", op, messages.ErrMessageNotFound)
	}
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: select: %w", op, err)
	}

	out, err := s.hydrate(ctx, []messageRow{row})
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: %w", op, err)
	}
	return out[0], nil
}

func (s *Storage) ListMessages(ctx context.Context, ref messages.ConversationRef, cursor messages.Cursor) ([]messages.Message, error) {
	const op = "storage.postgres.ListMessages"

	query := `
		SELECT ` + messageColumns + ` FROM (
			SELECT ` + messageColumns + ` FROM messages
			WHERE conversation_key = $1 AND deleted_at IS NULL
			  AND ($2 = '' OR (created_at, id) < (SELECT b.created_at, b.id FROM messages b WHERE b.id = $2))
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) page
		ORDER BY created_at ASC, id ASC
	`

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, ref.Key(), cursor.Before, cursor.PageSize()); err != nil {
		return nil, fmt.Errorf("%s: select: %w", op, err)
	}

	out, err := s.hydrate(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// hydrate loads attachments and reactions for a page in two queries.
func (s *Storage) hydrate(ctx context.Context, rows []messageRow) ([]messages.Message, error) {
	out := make([]messages.Message, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(rows))
	index := make(map[string]int, len(rows))
	for i, r := range rows {
		ids = append(ids, r.ID)
		index[r.ID] = i
		out = append(out, r.toMessage())
	}

	var atts []attachmentRow
	if err := s.db.SelectContext(ctx, &atts, `
		SELECT message_id, filename, size, url, is_image
		FROM attachments
		WHERE message_id = ANY($1)
		ORDER BY message_id, position
	`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("select attachments: %w", err)
	}
	for _, a := range atts {
		i := index[a.MessageID]
		out[i].Attachments = append(out[i].Attachments, messages.Attachment{
			Filename: a.Filename,
			Size:     a.Size,
			URL:      a.URL,
			IsImage:  a.IsImage,
		})
	}

	var reacts []reactionRow
	if err := s.db.SelectContext(ctx, &reacts, `
		SELECT message_id, user_id, emoji
		FROM reactions
		WHERE message_id = ANY($1)
		ORDER BY message_id, created_at, user_id
	`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("select reactions: %w", err)
	}
	for _, r := range reacts {
		i := index[r.MessageID]
		out[i].Reactions = append(out[i].Reactions, messages.Reaction{Emoji: r.Emoji, UserID: r.UserID})
	}

	return out, nil
}

func (s *Storage) UpdateText(ctx context.Context, id, text string, at time.Time) (messages.Message, error) {
	const op = "storage.postgres.UpdateText"

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET text = $2, edited = TRUE, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`, id, text, at)
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: update: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return messages.Message{}, fmt.Errorf("%s: %w", op, messages.ErrMessageNotFound)
	}

	return s.GetMessage(ctx, id)
}

func (s *Storage) AddReaction(ctx context.Context, id, emoji string, userID int64, at time.Time) (messages.Message, error) {
	return s.changeReaction(ctx, "storage.postgres.AddReaction", id, at, func(tx *sqlx.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx, `
			INSERT INTO reactions (message_id, user_id, emoji, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id, user_id, emoji) DO NOTHING
		`, id, userID, emoji, at)
	})
}

func (s *Storage) RemoveReaction(ctx context.Context, id, emoji string, userID int64, at time.Time) (messages.Message, error) {
	return s.changeReaction(ctx, "storage.postgres.RemoveReaction", id, at, func(tx *sqlx.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx, `
			DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3
		`, id, userID, emoji)
	})
}

// changeReaction bumps updated_at only when the reaction set actually changed.
func (s *Storage) changeReaction(ctx context.Context, op, id string, at time.Time, change func(tx *sqlx.Tx) (sql.Result, error)) (messages.Message, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND deleted_at IS NULL FOR UPDATE)
	`, id); err != nil {
		return messages.Message{}, fmt.Errorf("%s: lock message: %w", op, err)
	}
	if !exists {
		return messages.Message{}, fmt.Errorf("%s: %w", op, messages.ErrMessageNotFound)
	}

	res, err := change(tx)
	if err != nil {
		return messages.Message{}, fmt.Errorf("%s: change: %w", op, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET updated_at = $2 WHERE id = $1`, id, at); err != nil {
			return messages.Message{}, fmt.Errorf("%s: touch: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return messages.Message{}, fmt.Errorf("%s: commit tx: %w", op, err)
	}

	return s.GetMessage(ctx, id)
}

func (s *Storage) DeleteMessage(ctx context.Context, id string) (messages.ConversationRef, error) {
	const op = "storage.postgres.DeleteMessage"

	var row messageRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE messages SET deleted_at = COALESCE(deleted_at, now())
		WHERE id = $1
		RETURNING `+messageColumns, id)
	if errors.Is(err, sql.ErrNoRows) {
		return messages.ConversationRef{}, fmt.Errorf("%s: %w", op, messages.ErrMessageNotFound)
	}
	if err != nil {
		return messages.ConversationRef{}, fmt.Errorf("%s: update: %w", op, err)
	}

	return row.toMessage().Conversation, nil
}

func (s *Storage) IsDeleted(ctx context.Context, id string) (bool, error) {
	const op = "storage.postgres.IsDeleted"

	var deleted bool
	if err := s.db.GetContext(ctx, &deleted, `
		SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND deleted_at IS NOT NULL)
	`, id); err != nil {
		return false, fmt.Errorf("%s: select: %w", op, err)
	}
	return deleted, nil
}

func (s *Storage) ListDirectConversations(ctx context.Context, userID int64) ([]messages.DirectConversation, error) {
	const op = "storage.postgres.ListDirectConversations"

	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+messageColumns+` FROM (
			SELECT DISTINCT ON (conversation_key) `+messageColumns+`
			FROM messages
			WHERE channel_id = '' AND deleted_at IS NULL AND (user_a = $1 OR user_b = $1)
			ORDER BY conversation_key, created_at DESC, id DESC
		) latest
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: select: %w", op, err)
	}

	last, err := s.hydrate(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]messages.DirectConversation, 0, len(last))
	for i := range last {
		m := last[i]
		out = append(out, messages.DirectConversation{
			PeerID:        m.Conversation.Peer(userID),
			LastMessageAt: m.CreatedAt,
			LastMessage:   &m,
		})
	}
	return out, nil
}

func userRole(s string) userdomain.Role {
	return userdomain.Role(s)
}
