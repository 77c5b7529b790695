package vouch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fuelcart/vouch/ledger"
	"github.com/fuelcart/vouch/platform"
)

const commandPrefix = "!"

type chatCommand struct {
	usage     string
	adminOnly bool
	run       func(eng *Engine, ctx context.Context, msg *platform.Message, args []string) (string, error)
}

var chatCommands map[string]chatCommand

func init() {
	// assigned here: the handlers look their own usage up in the table
	chatCommands = map[string]chatCommand{
		"addpoints":    {usage: "!addpoints <member> <points>", adminOnly: true, run: (*Engine).cmdAddPoints},
		"removepoints": {usage: "!removepoints <member> <points>", adminOnly: true, run: (*Engine).cmdRemovePoints},
		"points":       {usage: "!points [member]", run: (*Engine).cmdPoints},
		"resetpoints":  {usage: "!resetpoints <member>", adminOnly: true, run: (*Engine).cmdResetPoints},
		"resetall":     {usage: "!resetall", adminOnly: true, run: (*Engine).cmdResetAll},
		"redeem":       {usage: "!redeem <member>", adminOnly: true, run: (*Engine).cmdRedeem},
		"help":         {usage: "!help", run: (*Engine).cmdHelp},
	}
}

// parseCommand splits a command invocation into name and arguments. The
// prefix is "!" or a mention of the bot.
func (eng *Engine) parseCommand(content string) (string, []string, bool) {
	content = strings.TrimSpace(content)
	switch {
	case strings.HasPrefix(content, commandPrefix):
		content = content[len(commandPrefix):]
	case eng.Config.BotUserID != "" && strings.HasPrefix(content, "<@"):
		id, rest, ok := strings.Cut(content, ">")
		if !ok || strings.TrimPrefix(strings.TrimPrefix(id, "<@"), "!") != eng.Config.BotUserID {
			return "", nil, false
		}
		content = rest
	default:
		return "", nil, false
	}
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// parseMemberRef accepts a mention ("<@123>", "<@!123>") or a bare numeric id.
func parseMemberRef(s string) (string, bool) {
	if strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">") {
		s = strings.TrimPrefix(s[2:len(s)-1], "!")
	}
	if s == "" {
		return "", false
	}
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return "", false
	}
	return s, true
}

// HandleCommand runs a chat command. Unknown commands are ignored silently
// and reported as not handled.
func (eng *Engine) HandleCommand(ctx context.Context, msg *platform.Message) (bool, error) {
	if msg.Author.Bot {
		return false, nil
	}
	name, args, ok := eng.parseCommand(msg.Content)
	if !ok {
		return false, nil
	}
	cmd, ok := chatCommands[name]
	if !ok {
		return false, nil
	}
	commandCount.WithLabelValues(name).Inc()

	var reply string
	var err error
	if cmd.adminOnly && !msg.Author.IsAdmin {
		err = ErrNotAuthorized
	} else {
		reply, err = cmd.run(eng, ctx, msg, args)
	}

	var reportErr error
	if err != nil {
		var ue *usageError
		switch {
		case errors.As(err, &ue):
			reply = ue.Error()
		case errors.Is(err, ErrNotAuthorized):
			reply = "You need **Administrator** to run that command here."
		case errors.Is(err, ErrMemberNotFound):
			reply = "Member not found."
		case errors.Is(err, ledger.ErrNegativeAmount):
			reply = "Points must not be negative."
		default:
			eng.Logger.Error("chat command failed", "command", name, "author", msg.Author.ID, "err", err)
			reply = "Something went wrong. Please try again."
			reportErr = fmt.Errorf("command %s: %w", name, err)
		}
	}

	if _, serr := eng.Sink.SendMessage(ctx, platform.OutgoingMessage{ChannelID: msg.ChannelID, Content: reply}); serr != nil {
		eng.Logger.Warn("failed to send command reply", "command", name, "err", serr)
	}
	return true, reportErr
}

// resolveMember checks that the referenced member exists in the community.
func (eng *Engine) resolveMember(ctx context.Context, msg *platform.Message, ref, usage string) (string, error) {
	id, ok := parseMemberRef(ref)
	if !ok {
		return "", &usageError{usage: usage}
	}
	if _, err := eng.Sink.FetchMember(ctx, msg.CommunityID, id); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return "", ErrMemberNotFound
		}
		return "", err
	}
	return id, nil
}

func (eng *Engine) memberAndAmount(ctx context.Context, msg *platform.Message, args []string, usage string) (string, int64, error) {
	if len(args) < 2 {
		return "", 0, &usageError{usage: usage}
	}
	n, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "", 0, &usageError{usage: usage}
	}
	id, err := eng.resolveMember(ctx, msg, args[0], usage)
	if err != nil {
		return "", 0, err
	}
	return id, n, nil
}

func pluralPoints(n int64) string {
	if n == 1 {
		return "point"
	}
	return "points"
}

func (eng *Engine) cmdAddPoints(ctx context.Context, msg *platform.Message, args []string) (string, error) {
	id, n, err := eng.memberAndAmount(ctx, msg, args, chatCommands["addpoints"].usage)
	if err != nil {
		return "", err
	}
	total, err := eng.Commands.Grant(ctx, msg.CommunityID, id, n)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added %d points to %s. They now have %d points.", n, platform.Mention(id), total), nil
}

func (eng *Engine) cmdRemovePoints(ctx context.Context, msg *platform.Message, args []string) (string, error) {
	id, n, err := eng.memberAndAmount(ctx, msg, args, chatCommands["removepoints"].usage)
	if err != nil {
		return "", err
	}
	total, err := eng.Commands.Revoke(ctx, msg.CommunityID, id, n)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %d points from %s. They now have %d points.", n, platform.Mention(id), total), nil
}

func (eng *Engine) cmdPoints(ctx context.Context, msg *platform.Message, args []string) (string, error) {
	id := msg.Author.ID
	if len(args) > 0 {
		var err error
		id, err = eng.resolveMember(ctx, msg, args[0], chatCommands["points"].usage)
		if err != nil {
			return "", err
		}
	}
	total, err := eng.Commands.Query(ctx, msg.CommunityID, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s has %d %s.", platform.Mention(id), total, pluralPoints(total)), nil
}

func (eng *Engine) cmdResetPoints(ctx context.Context, msg *platform.Message, args []string) (string, error) {
	usage := chatCommands["resetpoints"].usage
	if len(args) < 1 {
		return "", &usageError{usage: usage}
	}
	id, err := eng.resolveMember(ctx, msg, args[0], usage)
	if err != nil {
		return "", err
	}
	if err := eng.Commands.Reset(ctx, msg.CommunityID, id); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s's points have been reset.", platform.Mention(id)), nil
}

func (eng *Engine) cmdResetAll(ctx context.Context, msg *platform.Message, args []string) (string, error) {
	if err := eng.Commands.ResetAll(ctx, msg.CommunityID); err != nil {
		return "", err
	}
	eng.Logger.Info("all balances reset", "community", msg.CommunityID, "actor", msg.Author.ID)
	return "All points have been reset.", nil
}

func (eng *Engine) cmdRedeem(ctx context.Context, msg *platform.Message, args []string) (string, error) {
	usage := chatCommands["redeem"].usage
	if len(args) < 1 {
		return "", &usageError{usage: usage}
	}
	id, err := eng.resolveMember(ctx, msg, args[0], usage)
	if err != nil {
		return "", err
	}
	res, err := eng.Commands.Redeem(ctx, msg.CommunityID, id)
	if err != nil {
		return "", err
	}
	if !res.Redeemed {
		return fmt.Sprintf("%s has no points to redeem.", platform.Mention(id)), nil
	}
	eng.Logger.Info("points redeemed", "member", id, "points", res.Previous, "actor", msg.Author.ID)
	return fmt.Sprintf("%s's points have been reset for their reward.", platform.Mention(id)), nil
}

func (eng *Engine) cmdHelp(ctx context.Context, msg *platform.Message, args []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s vouch commands**\n", eng.Config.ServerName)
	for _, name := range []string{"points", "addpoints", "removepoints", "resetpoints", "resetall", "redeem"} {
		cmd := chatCommands[name]
		b.WriteString("`" + cmd.usage + "`")
		if cmd.adminOnly {
			b.WriteString(" (admin)")
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Post an image in <#%s> to submit a vouch.", eng.Config.SubmissionChannel)
	return b.String(), nil
}
