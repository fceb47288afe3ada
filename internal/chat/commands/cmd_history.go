package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

type HistoryCmd struct {
	flags  *Flags
	target target
}

func NewHistoryCmd(flags *Flags) *HistoryCmd {
	return &HistoryCmd{flags: flags}
}

func (cmd *HistoryCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "history",
		Usage:     "Print a conversation grouped by day",
		UsageText: "hodatay-chat history --channel general | --dm 2",
		Flags:     cmd.target.flags(),
		Action:    cmd.run,
	})

	return app
}

func (cmd *HistoryCmd) run(ctx context.Context, c *cli.Command) error {
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

	groups := mut.Session().Groups()
	if len(groups) == 0 {
		_, _ = fmt.Fprintln(c.Root().Writer, "No messages yet")
		return nil
	}
	printGroups(c.Root().Writer, groups)
	return nil
}
