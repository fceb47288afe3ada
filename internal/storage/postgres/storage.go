package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kgellert/hodatay-classroom/internal/channels"
)

//go:embed schema.sql
var schema string

type Storage struct {
	db *sqlx.DB
}

func New(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", op, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: apply schema: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

type channelRow struct {
	ID          string        `db:"id"`
	Name        string        `db:"name"`
	OpenToRole  string        `db:"open_to_role"`
	CreatedBy   int64         `db:"created_by"`
	CreatedAt   time.Time     `db:"created_at"`
	MemberIDs   pq.Int64Array `db:"member_ids"`
	UnreadCount int64         `db:"unread_count"`
}

func (r channelRow) toChannel() channels.Channel {
	return channels.Channel{
		ID:          r.ID,
		Name:        r.Name,
		MemberIDs:   []int64(r.MemberIDs),
		OpenToRole:  userRole(r.OpenToRole),
		UnreadCount: r.UnreadCount,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
	}
}

const channelSelect = `
	SELECT c.id, c.name, c.open_to_role, c.created_by, c.created_at,
	       COALESCE(ARRAY(SELECT cm.user_id FROM channel_members cm WHERE cm.channel_id = c.id ORDER BY cm.user_id), '{}') AS member_ids,
	       (SELECT COUNT(*) FROM messages m
	         WHERE m.channel_id = c.id
	           AND m.deleted_at IS NULL
	           AND m.author_id <> $1
	           AND m.created_at > COALESCE((SELECT r.last_read_at FROM channel_reads r
	                                         WHERE r.channel_id = c.id AND r.user_id = $1), '-infinity'::timestamptz)
	       ) AS unread_count
	FROM channels c
`

func (s *Storage) CreateChannel(ctx context.Context, ch channels.Channel) (channels.Channel, error) {
	const op = "storage.postgres.CreateChannel"

	if ch.ID == "" {
		u, err := uuid.NewV7()
		if err != nil {
			return channels.Channel{}, fmt.Errorf("%s: id: %w", op, err)
		}
		ch.ID = u.String()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return channels.Channel{}, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO channels (id, name, name_key, open_to_role, created_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name_key) DO NOTHING
	`, ch.ID, ch.Name, ch.NormalizedName(), string(ch.OpenToRole), ch.CreatedBy)
	if err != nil {
		return channels.Channel{}, fmt.Errorf("%s: insert channel: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return channels.Channel{}, fmt.Errorf("%s: %w", op, channels.ErrChannelExists)
	}

	if err := addMembers(ctx, tx, ch.ID, ch.MemberIDs); err != nil {
		return channels.Channel{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return channels.Channel{}, fmt.Errorf("%s: commit tx: %w", op, err)
	}

	return s.GetChannel(ctx, ch.ID)
}

func addMembers(ctx context.Context, q sqlx.ExtContext, channelID string, userIDs []int64) error {
	userIDs = channels.UniquePositive(userIDs)
	if len(userIDs) == 0 {
		return nil
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, user_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT (channel_id, user_id) DO NOTHING
	`, channelID, pq.Array(userIDs))
	if err != nil {
		return fmt.Errorf("insert members: %w", err)
	}
	return nil
}

func (s *Storage) GetChannel(ctx context.Context, id string) (channels.Channel, error) {
	const op = "storage.postgres.GetChannel"

	var row channelRow
	err := s.db.GetContext(ctx, &row, channelSelect+` WHERE c.id = $2`, 0, id)
	if errors.Is(err, sql.ErrNoRows) {
		return channels.Channel{}, fmt.Errorf("%s: %w", op, channels.ErrChannelNotFound)
	}
	if err != nil {
		return channels.Channel{}, fmt.Errorf("%s: select: %w", op, err)
	}
	return row.toChannel(), nil
}

func (s *Storage) ListChannels(ctx context.Context, viewerID int64) ([]channels.Channel, error) {
	const op = "storage.postgres.ListChannels"

	var rows []channelRow
	if err := s.db.SelectContext(ctx, &rows, channelSelect+` ORDER BY c.created_at, c.id`, viewerID); err != nil {
		return nil, fmt.Errorf("%s: select: %w", op, err)
	}

	out := make([]channels.Channel, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toChannel())
	}
	return out, nil
}

func (s *Storage) AddMembers(ctx context.Context, id string, userIDs []int64) (channels.Channel, error) {
	const op = "storage.postgres.AddMembers"

	if _, err := s.GetChannel(ctx, id); err != nil {
		return channels.Channel{}, err
	}

	if err := addMembers(ctx, s.db, id, userIDs); err != nil {
		return channels.Channel{}, fmt.Errorf("%s: %w", op, err)
	}

	return s.GetChannel(ctx, id)
}

func (s *Storage) MarkRead(ctx context.Context, id string, userID int64, at time.Time) error {
	const op = "storage.postgres.MarkRead"

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_reads (channel_id, user_id, last_read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (channel_id, user_id)
		DO UPDATE SET last_read_at = GREATEST(channel_reads.last_read_at, EXCLUDED.last_read_at)
	`, id, userID, at)
	if err != nil {
		return fmt.Errorf("%s: upsert: %w", op, err)
	}
	return nil
}
