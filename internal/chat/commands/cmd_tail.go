package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/kgellert/hodatay-classroom/internal/chat/dategroup"
	"github.com/kgellert/hodatay-classroom/internal/chat/mutator"
	"github.com/kgellert/hodatay-classroom/internal/chat/realtime"
	"github.com/kgellert/hodatay-classroom/internal/chat/selector"
	"github.com/kgellert/hodatay-classroom/internal/lib/logger/sl"
	"github.com/kgellert/hodatay-classroom/internal/messages"
)

type TailCmd struct {
	flags  *Flags
	target target
	write  bool
}

func NewTailCmd(flags *Flags) *TailCmd {
	return &TailCmd{flags: flags}
}

func (cmd *TailCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "tail",
		Usage:     "Follow a conversation live",
		UsageText: "hodatay-chat tail --channel general [--write]",
		Description: `Prints the history grouped by day, then every new message as it arrives.

With --write every line read from stdin is sent to the conversation.`,
		Flags: append(cmd.target.flags(), &cli.BoolFlag{
			Name:        "write",
			Aliases:     []string{"w"},
			Usage:       "send lines read from stdin",
			Destination: &cmd.write,
		}),
		Action: cmd.run,
	})

	return app
}

func (cmd *TailCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config
	log := cmd.flags.Log

	user, err := cmd.flags.me(ctx)
	if err != nil {
		return err
	}

	var sel *selector.Selector
	mgr := realtime.NewManager(realtime.ManagerOptions{
		URL:    cfg.WebsocketURL,
		UserID: user.ID,
		Backoff: realtime.Backoff{
			Initial:    cfg.Backoff.Initial,
			Multiplier: cfg.Backoff.Multiplier,
			Max:        cfg.Backoff.Max,
		},
		QueueSize: cfg.OutboundQueue,
		Log:       log,
		OnState: func(k realtime.Kind, s realtime.State) {
			log.Info("realtime connection", slog.String("kind", string(k)), slog.String("state", s.String()))
		},
		OnDelivered: func(clientID string) { sel.Delivered(clientID) },
	})
	defer mgr.Close()

	sel = cmd.flags.selector(user, mgr)
	defer sel.Close()

	if err := mgr.StartInbox(ctx); err != nil {
		return fmt.Errorf("start inbox: %w", err)
	}

	mut, err := cmd.target.open(ctx, sel)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	out := c.Root().Writer
	tail := &tailPrinter{w: out, grouper: dategroup.Grouper{}, printed: make(map[string]bool)}
	changes := mut.Session().Changes()
	tail.flush(mut.Session().Messages())

	if cmd.write {
		go cmd.readLines(ctx, c.Root().Reader, mut, log)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sel.Run(gctx, mgr.Events())
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case _, ok := <-changes:
				if !ok {
					return nil
				}
				tail.flush(mut.Session().Messages())
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (cmd *TailCmd) readLines(ctx context.Context, r io.Reader, mut *mutator.Mutator, log *slog.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		draft := messages.Draft{Text: sc.Text()}
		if draft.Validate() != nil {
			continue
		}
		if _, err := mut.Send(ctx, draft); err != nil {
			log.Warn("message not sent", sl.Err(err))
		}
	}
}

// tailPrinter prints each confirmed message once, with a day header
// whenever the day changes.
type tailPrinter struct {
	w       io.Writer
	grouper dategroup.Grouper
	printed map[string]bool
	label   string
}

func (p *tailPrinter) flush(list []messages.Message) {
	for _, g := range p.grouper.Group(list) {
		for _, m := range g.Messages {
			if p.printed[m.ID] || m.ID == m.ClientID {
				continue
			}
			p.printed[m.ID] = true

			if g.Label != p.label {
				if p.label != "" {
					_, _ = fmt.Fprintln(p.w)
				}
				_, _ = fmt.Fprintf(p.w, "── %s ──\n", g.Label)
				p.label = g.Label
			}
			_, _ = fmt.Fprintln(p.w, formatMessage(m))
		}
	}
}
