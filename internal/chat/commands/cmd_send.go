package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/kgellert/hodatay-classroom/internal/messages"
)

type SendCmd struct {
	flags  *Flags
	target target
}

func NewSendCmd(flags *Flags) *SendCmd {
	return &SendCmd{flags: flags}
}

func (cmd *SendCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "send",
		Usage:     "Send a message",
		UsageText: "hodatay-chat send --channel general <text>",
		Flags:     cmd.target.flags(),
		Action:    cmd.run,
	})

	return app
}

func (cmd *SendCmd) run(ctx context.Context, c *cli.Command) error {
	draft := messages.Draft{Text: strings.Join(c.Args().Slice(), " ")}
	if err := draft.Validate(); err != nil {
		return err
	}

	user, err := cmd.flags.me(ctx)
	if err != nil {
		return err
	}

	sel := cmd.flags.selector(user, nil)
	defer sel.Close()

	mut, err := cmd.target.open(ctx, sel)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	msg, err := mut.Send(ctx, draft)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	_, _ = fmt.Fprintln(c.Root().Writer, formatMessage(msg))
	return nil
}
