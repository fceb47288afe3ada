package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kgellert/hodatay-classroom/internal/channels"
	"github.com/kgellert/hodatay-classroom/internal/chat/access"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
)

type Service struct {
	repo channels.Repo
	log  *slog.Logger
	now  func() time.Time
}

func New(repo channels.Repo, log *slog.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

// List returns every channel with the viewer's unread counter. Filtering by
// access is left to the caller, which re-evaluates it on role changes.
func (s *Service) List(ctx context.Context, viewer userdomain.User) ([]channels.Channel, error) {
	const op = "services.channels.List"

	list, err := s.repo.ListChannels(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, viewer userdomain.User, id string) (channels.Channel, error) {
	const op = "services.channels.Get"

	ch, err := s.repo.GetChannel(ctx, id)
	if err != nil {
		return channels.Channel{}, fmt.Errorf("%s: %w", op, err)
	}
	if !access.CanAccess(viewer, ch) {
		return channels.Channel{}, fmt.Errorf("%s: %w", op, channels.ErrAccessDenied)
	}
	return ch, nil
}

// Create is limited to roles that manage channels. The creator always
// becomes a member.
func (s *Service) Create(ctx context.Context, actor userdomain.User, req channels.CreateChannelRequest) (channels.Channel, error) {
	const op = "services.channels.Create"

	if !actor.Role.CanManageChannels() {
		return channels.Channel{}, channels.ErrCannotManage
	}

	name := strings.TrimSpace(req.Name)
	if channels.NormalizeName(name) == "" {
		return channels.Channel{}, channels.ErrEmptyName
	}
	if req.OpenToRole != "" && !req.OpenToRole.Valid() {
		return channels.Channel{}, channels.ErrUnknownRole
	}

	ch, err := s.repo.CreateChannel(ctx, channels.Channel{
		Name:       name,
		MemberIDs:  channels.UniquePositive(append([]int64{actor.ID}, req.MemberIDs...)),
		OpenToRole: req.OpenToRole,
		CreatedBy:  actor.ID,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return channels.Channel{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("channel created",
		slog.String("op", op),
		slog.String("channel_id", ch.ID),
		slog.Int64("created_by", actor.ID),
	)
	return ch, nil
}

// CanManage reports whether actor may change the membership of ch.
func CanManage(actor userdomain.User, ch channels.Channel) bool {
	return actor.Role.CanManageChannels() || (actor.ID > 0 && ch.CreatedBy == actor.ID)
}

func (s *Service) Invite(ctx context.Context, actor userdomain.User, id string, userIDs []int64) (channels.Channel, error) {
	const op = "services.channels.Invite"

	ids := channels.UniquePositive(userIDs)
	if len(ids) == 0 {
		return channels.Channel{}, channels.ErrEmptyParticipants
	}

	ch, err := s.repo.GetChannel(ctx, id)
	if err != nil {
		return channels.Channel{}, fmt.Errorf("%s: %w", op, err)
	}
	if !CanManage(actor, ch) {
		return channels.Channel{}, fmt.Errorf("%s: %w", op, channels.ErrCannotManage)
	}

	ch, err = s.repo.AddMembers(ctx, id, ids)
	if err != nil {
		return channels.Channel{}, fmt.Errorf("%s: %w", op, err)
	}
	return ch, nil
}

func (s *Service) MarkRead(ctx context.Context, viewer userdomain.User, id string) error {
	const op = "services.channels.MarkRead"

	if _, err := s.Get(ctx, viewer, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.repo.MarkRead(ctx, id, viewer.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
