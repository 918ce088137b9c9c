package daemon

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/seqbot/internal/config"
	"github.com/harun/seqbot/internal/telegram"
	"github.com/harun/seqbot/internal/tracing"
	"github.com/harun/seqbot/pkg/commandqueue"
	"github.com/harun/seqbot/pkg/fsub"
	"github.com/harun/seqbot/pkg/sequence"
	"github.com/harun/seqbot/pkg/store"
	"github.com/rs/zerolog"
)

const leaderboardSize = 10

// Messenger is the part of the Telegram transport the router talks to
type Messenger interface {
	telegram.Sender
	Edit(ctx context.Context, chatID int64, messageID int, text string, kb telegram.Keyboard) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	ResolveChannel(ctx context.Context, ref string) (fsub.Channel, error)
}

// SequenceAuditor records completed sequences
type SequenceAuditor interface {
	RecordSequence(ctx context.Context, owner int64, report *sequence.Report)
}

// RouterDeps are the collaborators of a Router
type RouterDeps struct {
	Messenger  Messenger
	Queue      *commandqueue.CommandQueue
	Sequences  *sequence.Manager
	Registry   *fsub.Registry
	Store      store.Store
	Audit      SequenceAuditor
	Messages   config.MessagesConfig
	PendingTTL time.Duration
	Logger     zerolog.Logger
}

// Router turns Telegram updates into sequence, registry and leaderboard
// operations. Updates of one user are handled one at a time, in order.
type Router struct {
	messenger Messenger
	commands  *telegram.Commands
	queue     *commandqueue.CommandQueue
	sequences *sequence.Manager
	registry  *fsub.Registry
	store     store.Store
	audit     SequenceAuditor
	messages  config.MessagesConfig
	pending   *pendingInputs
	logger    zerolog.Logger
}

// NewRouter creates a router and registers the bot commands
func NewRouter(deps RouterDeps) *Router {
	r := &Router{
		messenger: deps.Messenger,
		queue:     deps.Queue,
		sequences: deps.Sequences,
		registry:  deps.Registry,
		store:     deps.Store,
		audit:     deps.Audit,
		messages:  deps.Messages,
		pending:   newPendingInputs(deps.PendingTTL),
		logger:    deps.Logger.With().Str("component", "router").Logger(),
	}
	r.commands = telegram.NewCommands(deps.Messenger, r.logger)
	r.registerCommands()
	return r
}

func (r *Router) registerCommands() {
	r.commands.Register("start", "Welcome and main menu", r.cmdStart)
	r.commands.Register("menu", "Main menu", r.cmdMenu)
	r.commands.Register("help", "How to use the bot", r.cmdHelp)
	r.commands.Register("startsequence", "Start collecting files", r.cmdStartSequence)
	r.commands.Register("endsequence", "Send the files back in episode order", r.cmdEndSequence)
	r.commands.Register("leaderboard", "Top sequencers", r.cmdLeaderboard)

	// operator only, kept out of the public menu
	r.commands.Register("addchannel", "", r.cmdAddChannel)
	r.commands.Register("removechannel", "", r.cmdRemoveChannel)
	r.commands.Register("channels", "", r.cmdChannels)
	r.commands.Register("users", "", r.cmdUsers)
}

// Commands returns the command registry, for publishing the command menu
func (r *Router) Commands() *telegram.Commands {
	return r.commands
}

// HandleUpdate implements telegram.UpdateHandler. The update is queued on the
// sender's lane and handled asynchronously.
func (r *Router) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	userID, ok := updateUser(update)
	if !ok {
		return
	}

	ctx = tracing.NewRequestContext(ctx, userID)
	r.queue.Submit(ctx, chatLane(userID), func(ctx context.Context) (interface{}, error) {
		return nil, r.dispatch(ctx, update)
	})
}

func chatLane(userID int64) string {
	return "chat:" + strconv.FormatInt(userID, 10)
}

func updateUser(update tgbotapi.Update) (int64, bool) {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
		return update.CallbackQuery.From.ID, true
	case update.Message != nil && update.Message.From != nil:
		return update.Message.From.ID, true
	}
	return 0, false
}

func (r *Router) dispatch(ctx context.Context, update tgbotapi.Update) error {
	if update.CallbackQuery != nil {
		return r.handleCallback(ctx, update.CallbackQuery)
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return nil
	}
	if msg.IsCommand() {
		return r.commands.HandleCommand(ctx, msg)
	}
	return r.handleMessage(ctx, msg)
}

func (r *Router) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	userID := msg.From.ID

	if msg.Text != "" && r.registry.IsOperator(userID) {
		if in, ok := r.pending.Take(userID); ok {
			if err := r.addChannel(ctx, msg.Chat.ID, userID, msg.Text); err != nil {
				return err
			}
			return r.showChannelPanel(ctx, in.chatID, in.messageID)
		}
	}

	name, kind, ok := telegram.FileItem(msg)
	if !ok {
		return nil
	}

	n, err := r.sequences.Append(ctx, userID, sequence.Item{
		Name:       name,
		Ref:        sequence.ItemRef{ChatID: msg.Chat.ID, MessageID: msg.MessageID},
		Kind:       kind,
		ReceivedAt: msg.Time(),
	})
	if errors.Is(err, sequence.ErrNoActiveSession) {
		return r.reply(ctx, msg.Chat.ID, textNoSession, nil)
	}
	if err != nil {
		return err
	}

	return r.reply(ctx, msg.Chat.ID, bufferedText(name, n), nil)
}

func (r *Router) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return r.messenger.AnswerCallback(ctx, cb.ID, "", false)
	}

	action, err := ParseAction(cb.Data)
	if err != nil {
		r.logger.Warn().Err(err).Int64("user_id", cb.From.ID).Msg("Rejected callback")
		return r.messenger.AnswerCallback(ctx, cb.ID, "This button is no longer valid.", true)
	}

	userID := cb.From.ID
	if operatorOnly(action.Kind) && !r.registry.IsOperator(userID) {
		return r.messenger.AnswerCallback(ctx, cb.ID, textUnauthorized, true)
	}

	// answer right away; a replay can outlast the callback deadline
	if err := r.messenger.AnswerCallback(ctx, cb.ID, "", false); err != nil {
		r.logger.Debug().Err(err).Msg("Failed to answer callback")
	}

	chatID, messageID := cb.Message.Chat.ID, cb.Message.MessageID

	switch action.Kind {
	case ActionMainMenu:
		text, kb := r.mainMenu(userID, telegram.DisplayName(cb.From))
		return r.show(ctx, chatID, messageID, text, kb)
	case ActionSequenceMenu:
		text, kb := r.sequenceMenu(userID)
		return r.show(ctx, chatID, messageID, text, kb)
	case ActionSequenceStart, ActionRecheckStart:
		return r.startSequence(ctx, chatID, messageID, userID)
	case ActionSequenceEnd, ActionRecheckEnd:
		return r.endSequence(ctx, chatID, messageID, userID, telegram.DisplayName(cb.From))
	case ActionChannelPanel:
		r.pending.Cancel(userID)
		return r.showChannelPanel(ctx, chatID, messageID)
	case ActionChannelAdd:
		r.pending.Arm(userID, chatID, messageID)
		return r.show(ctx, chatID, messageID, textAddPrompt, telegram.Keyboard{
			telegram.Row(telegram.Button{Text: "⬅️ Cancel", Data: act(ActionChannelPanel)}),
		})
	case ActionChannelRemove:
		if err := r.registry.Remove(ctx, userID, action.ChannelID); err != nil && !errors.Is(err, fsub.ErrNotFound) {
			return err
		}
		return r.showChannelPanel(ctx, chatID, messageID)
	case ActionLeaderboard:
		text, err := r.leaderboard(ctx)
		if err != nil {
			return err
		}
		return r.show(ctx, chatID, messageID, text, backKeyboard())
	case ActionUsers:
		text, err := r.userCount(ctx)
		if err != nil {
			return err
		}
		return r.show(ctx, chatID, messageID, text, backKeyboard())
	case ActionHelp:
		return r.show(ctx, chatID, messageID, r.messages.Help, backKeyboard())
	case ActionClose:
		return r.messenger.Delete(ctx, chatID, messageID)
	default:
		return fmt.Errorf("unhandled action %d", action.Kind)
	}
}

func operatorOnly(kind ActionKind) bool {
	switch kind {
	case ActionChannelPanel, ActionChannelAdd, ActionChannelRemove, ActionUsers:
		return true
	}
	return false
}

func (r *Router) startSequence(ctx context.Context, chatID int64, messageID int, userID int64) error {
	res, err := r.sequences.Start(ctx, userID)

	var denied *sequence.GateDeniedError
	if errors.As(err, &denied) {
		text, kb := gateDenied(denied, ActionRecheckStart)
		return r.show(ctx, chatID, messageID, text, kb)
	}
	if err != nil {
		return err
	}

	return r.show(ctx, chatID, messageID, startedText(res), nil)
}

func (r *Router) endSequence(ctx context.Context, chatID int64, messageID int, userID int64, displayName string) error {
	report, err := r.sequences.End(ctx, userID, displayName)

	var denied *sequence.GateDeniedError
	switch {
	case errors.As(err, &denied):
		text, kb := gateDenied(denied, ActionRecheckEnd)
		return r.show(ctx, chatID, messageID, text, kb)
	case errors.Is(err, sequence.ErrNoActiveSession):
		return r.show(ctx, chatID, messageID, textNoSession, nil)
	case errors.Is(err, sequence.ErrEmptySequence):
		return r.show(ctx, chatID, messageID, textEmptySequence, nil)
	case err != nil:
		return err
	}

	if r.audit != nil {
		r.audit.RecordSequence(ctx, userID, report)
	}

	// the summary goes below the replayed files
	return r.reply(ctx, chatID, replaySummary(report), nil)
}

func (r *Router) addChannel(ctx context.Context, chatID, actor int64, ref string) error {
	if !r.registry.IsOperator(actor) {
		return r.reply(ctx, chatID, textUnauthorized, nil)
	}
	if ref == "" {
		return r.reply(ctx, chatID, textAddUsage, nil)
	}

	ch, err := r.messenger.ResolveChannel(ctx, ref)
	if err != nil {
		r.logger.Warn().Err(err).Str("ref", ref).Msg("Failed to resolve channel")
		return r.reply(ctx, chatID, fmt.Sprintf("❌ Could not find %s. Add me to the channel as an admin and try again.", ref), nil)
	}

	updated, err := r.registry.Add(ctx, actor, ch)
	switch {
	case errors.Is(err, fsub.ErrCapacityExceeded):
		return r.reply(ctx, chatID, fmt.Sprintf("❌ Already %d channels registered. Remove one first.", fsub.MaxChannels), nil)
	case errors.Is(err, fsub.ErrUnauthorized):
		return r.reply(ctx, chatID, textUnauthorized, nil)
	case err != nil:
		return err
	}

	verb := "Added"
	if updated {
		verb = "Updated"
	}
	return r.reply(ctx, chatID, fmt.Sprintf("✅ %s %s (%d).", verb, ch.DisplayName(), ch.ID), nil)
}

func (r *Router) showChannelPanel(ctx context.Context, chatID int64, messageID int) error {
	channels, err := r.registry.Channels(ctx)
	if err != nil {
		return err
	}
	text, kb := channelPanel(channels)
	return r.show(ctx, chatID, messageID, text, kb)
}

func (r *Router) leaderboard(ctx context.Context) (string, error) {
	top, err := r.store.TopUsers(ctx, leaderboardSize)
	if err != nil {
		return "", fmt.Errorf("load leaderboard: %w", err)
	}
	return leaderboardText(top), nil
}

func (r *Router) userCount(ctx context.Context) (string, error) {
	n, err := r.store.CountUsers(ctx)
	if err != nil {
		return "", fmt.Errorf("count users: %w", err)
	}
	return fmt.Sprintf("👥 Total users: %d", n), nil
}

// show edits the message the button belongs to, or sends a new one when
// there is none.
func (r *Router) show(ctx context.Context, chatID int64, messageID int, text string, kb telegram.Keyboard) error {
	if messageID == 0 {
		return r.reply(ctx, chatID, text, kb)
	}
	return r.messenger.Edit(ctx, chatID, messageID, text, kb)
}

func (r *Router) reply(ctx context.Context, chatID int64, text string, kb telegram.Keyboard) error {
	_, err := r.messenger.Notify(ctx, chatID, text, kb)
	return err
}

// PendingInputs returns the number of armed operator prompts
func (r *Router) PendingInputs() int {
	return r.pending.Len()
}

// ExpirePending drops operator prompts that outlived their TTL
func (r *Router) ExpirePending() int {
	return r.pending.Expire()
}
