package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
)

type DmsCmd struct {
	flags *Flags
}

func NewDmsCmd(flags *Flags) *DmsCmd {
	return &DmsCmd{flags: flags}
}

func (cmd *DmsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "dms",
		Usage:       "List your direct conversations",
		UsageText:   "hodatay-chat dms",
		Description: "Shows one line per peer, most recent activity first.",
		Action:      cmd.run,
	})

	return app
}

func (cmd *DmsCmd) run(ctx context.Context, c *cli.Command) error {
	list, err := cmd.flags.Client.ListDirectConversations(ctx)
	if err != nil {
		return fmt.Errorf("list direct conversations: %w", err)
	}

	out := c.Root().Writer
	if len(list) == 0 {
		_, _ = fmt.Fprintln(out, "No direct conversations")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PEER\tLAST ACTIVITY\tLAST MESSAGE")
	for _, dm := range list {
		last := ""
		if dm.LastMessage != nil {
			last = dm.LastMessage.Text
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", dm.PeerID, dm.LastMessageAt.Local().Format(time.DateTime), last)
	}
	return w.Flush()
}
