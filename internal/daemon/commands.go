package daemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/harun/seqbot/internal/telegram"
	"github.com/harun/seqbot/pkg/fsub"
)

func (r *Router) cmdStart(ctx context.Context, cmd telegram.CommandContext) error {
	if err := r.store.TouchUser(ctx, cmd.UserID, cmd.DisplayName); err != nil {
		r.logger.Warn().Err(err).Int64("user_id", cmd.UserID).Msg("Failed to record user")
	}

	text, kb := r.mainMenu(cmd.UserID, cmd.DisplayName)
	return r.reply(ctx, cmd.ChatID, text, kb)
}

func (r *Router) cmdMenu(ctx context.Context, cmd telegram.CommandContext) error {
	text, kb := r.mainMenu(cmd.UserID, cmd.DisplayName)
	return r.reply(ctx, cmd.ChatID, text, kb)
}

func (r *Router) cmdHelp(ctx context.Context, cmd telegram.CommandContext) error {
	return r.reply(ctx, cmd.ChatID, r.messages.Help, nil)
}

func (r *Router) cmdStartSequence(ctx context.Context, cmd telegram.CommandContext) error {
	return r.startSequence(ctx, cmd.ChatID, 0, cmd.UserID)
}

func (r *Router) cmdEndSequence(ctx context.Context, cmd telegram.CommandContext) error {
	return r.endSequence(ctx, cmd.ChatID, 0, cmd.UserID, cmd.DisplayName)
}

func (r *Router) cmdLeaderboard(ctx context.Context, cmd telegram.CommandContext) error {
	text, err := r.leaderboard(ctx)
	if err != nil {
		return err
	}
	return r.reply(ctx, cmd.ChatID, text, nil)
}

func (r *Router) cmdAddChannel(ctx context.Context, cmd telegram.CommandContext) error {
	return r.addChannel(ctx, cmd.ChatID, cmd.UserID, cmd.RawArgs)
}

func (r *Router) cmdRemoveChannel(ctx context.Context, cmd telegram.CommandContext) error {
	if !r.registry.IsOperator(cmd.UserID) {
		return r.reply(ctx, cmd.ChatID, textUnauthorized, nil)
	}
	if len(cmd.Args) != 1 {
		return r.reply(ctx, cmd.ChatID, "Usage: /removechannel <channel id>", nil)
	}

	id, err := strconv.ParseInt(cmd.Args[0], 10, 64)
	if err != nil {
		return r.reply(ctx, cmd.ChatID, fmt.Sprintf("❌ %q is not a channel id.", cmd.Args[0]), nil)
	}

	err = r.registry.Remove(ctx, cmd.UserID, id)
	switch {
	case errors.Is(err, fsub.ErrNotFound):
		return r.reply(ctx, cmd.ChatID, fmt.Sprintf("❌ Channel %d is not registered.", id), nil)
	case errors.Is(err, fsub.ErrUnauthorized):
		return r.reply(ctx, cmd.ChatID, textUnauthorized, nil)
	case err != nil:
		return err
	}
	return r.reply(ctx, cmd.ChatID, fmt.Sprintf("✅ Removed channel %d.", id), nil)
}

func (r *Router) cmdChannels(ctx context.Context, cmd telegram.CommandContext) error {
	if !r.registry.IsOperator(cmd.UserID) {
		return r.reply(ctx, cmd.ChatID, textUnauthorized, nil)
	}
	return r.showChannelPanel(ctx, cmd.ChatID, 0)
}

func (r *Router) cmdUsers(ctx context.Context, cmd telegram.CommandContext) error {
	if !r.registry.IsOperator(cmd.UserID) {
		return r.reply(ctx, cmd.ChatID, textUnauthorized, nil)
	}
	text, err := r.userCount(ctx)
	if err != nil {
		return err
	}
	return r.reply(ctx, cmd.ChatID, text, nil)
}
