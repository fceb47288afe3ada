package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

type ChannelsCmd struct {
	flags *Flags

	members []string
}

func NewChannelsCmd(flags *Flags) *ChannelsCmd {
	return &ChannelsCmd{flags: flags}
}

// Register adds the channels command and its subcommands.
func (cmd *ChannelsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "channels",
		Usage:     "List the channels you can open",
		UsageText: "hodatay-chat channels [command]",
		Action:    cmd.list,
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a channel",
				UsageText: "hodatay-chat channels create --member 3,5 <name>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:        "member",
						Usage:       "user ids to add, comma separated or repeated",
						Destination: &cmd.members,
					},
				},
				Action: cmd.create,
			},
			{
				Name:      "invite",
				Usage:     "Invite users into a channel",
				UsageText: "hodatay-chat channels invite <channel-id> <user-id>...",
				Action:    cmd.invite,
			},
			{
				Name:      "read",
				Usage:     "Mark a channel as read",
				UsageText: "hodatay-chat channels read <channel-id>",
				Action:    cmd.read,
			},
		},
	})

	return app
}

func (cmd *ChannelsCmd) list(ctx context.Context, c *cli.Command) error {
	user, err := cmd.flags.me(ctx)
	if err != nil {
		return err
	}

	list, err := cmd.flags.selector(user, nil).Channels(ctx)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}

	out := c.Root().Writer
	if len(list) == 0 {
		_, _ = fmt.Fprintln(out, "No channels")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tMEMBERS\tUNREAD")
	for _, ch := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", ch.ID, ch.Name, len(ch.MemberIDs), ch.UnreadCount)
	}
	return w.Flush()
}

func (cmd *ChannelsCmd) create(ctx context.Context, c *cli.Command) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("channel name is required")
	}

	ids, err := parseUserIDs(cmd.members)
	if err != nil {
		return err
	}

	ch, err := cmd.flags.Client.CreateChannel(ctx, name, ids)
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	_, _ = fmt.Fprintf(c.Root().Writer, "Created %s (%s)\n", ch.Name, ch.ID)
	return nil
}

func (cmd *ChannelsCmd) invite(ctx context.Context, c *cli.Command) error {
	args := c.Args().Slice()
	if len(args) < 2 {
		return fmt.Errorf("channel id and at least one user id are required")
	}

	ids, err := parseUserIDs(args[1:])
	if err != nil {
		return err
	}

	if err := cmd.flags.Client.InviteMembers(ctx, args[0], ids); err != nil {
		return fmt.Errorf("invite members: %w", err)
	}

	_, _ = fmt.Fprintf(c.Root().Writer, "Invited %d user(s)\n", len(ids))
	return nil
}

func (cmd *ChannelsCmd) read(ctx context.Context, c *cli.Command) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("channel id is required")
	}
	if err := cmd.flags.Client.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}
