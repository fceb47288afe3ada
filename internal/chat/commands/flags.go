package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kgellert/hodatay-classroom/internal/channels"
	"github.com/kgellert/hodatay-classroom/internal/chat/conversations"
	"github.com/kgellert/hodatay-classroom/internal/chat/dategroup"
	"github.com/kgellert/hodatay-classroom/internal/chat/merge"
	"github.com/kgellert/hodatay-classroom/internal/chat/mutator"
	"github.com/kgellert/hodatay-classroom/internal/chat/selector"
	"github.com/kgellert/hodatay-classroom/internal/config"
	userdomain "github.com/kgellert/hodatay-classroom/internal/users/domain"
)

type Flags struct {
	ConfigPath string
	Env        string
	UserID     int64

	// Config and Client are set up in the Before hook
	Config *config.ChatClientConfig
	Client *conversations.Client
	Log    *slog.Logger
}

// target is the conversation a command works on, picked with --channel or --dm.
type target struct {
	channel string
	peer    int64
}

func (t *target) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "channel",
			Usage:       "channel id or name",
			Destination: &t.channel,
		},
		&cli.Int64Flag{
			Name:        "dm",
			Usage:       "user id of the direct message peer",
			Destination: &t.peer,
		},
	}
}

func (t *target) validate() error {
	switch {
	case t.channel != "" && t.peer != 0:
		return fmt.Errorf("use either --channel or --dm, not both")
	case t.channel == "" && t.peer == 0:
		return fmt.Errorf("one of --channel or --dm is required")
	}
	return nil
}

func (f *Flags) me(ctx context.Context) (userdomain.User, error) {
	u, err := f.Client.Me(ctx)
	if err != nil {
		return userdomain.User{}, fmt.Errorf("resolve user %d: %w", f.UserID, err)
	}
	return u, nil
}

func (f *Flags) selector(user userdomain.User, rt selector.Subscriber) *selector.Selector {
	return selector.New(user, f.Client, rt, selector.Options{
		Merger:  merge.New(f.Config.ReconcileWindow),
		Grouper: dategroup.Grouper{},
		Log:     f.Log,
	})
}

// open selects the target conversation. A channel can be given by id or
// by name.
func (t *target) open(ctx context.Context, sel *selector.Selector) (*mutator.Mutator, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if t.peer != 0 {
		return sel.SelectDirect(ctx, t.peer)
	}

	visible, err := sel.Channels(ctx)
	if err != nil {
		return nil, err
	}
	id := t.channel
	for _, ch := range visible {
		if ch.ID == t.channel || ch.NormalizedName() == channels.NormalizeName(t.channel) {
			id = ch.ID
			break
		}
	}
	return sel.SelectChannel(ctx, id)
}

func parseUserIDs(raw []string) ([]int64, error) {
	out := make([]int64, 0, len(raw))
	for _, s := range raw {
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user id %q", part)
			}
			out = append(out, id)
		}
	}
	return out, nil
}
