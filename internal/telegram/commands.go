package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender delivers a text reply
type Sender interface {
	Notify(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error)
}

// Commands routes slash commands to registered handlers
type Commands struct {
	sender   Sender
	logger   zerolog.Logger
	handlers map[string]registeredCommand
}

type registeredCommand struct {
	description string
	handler     CommandFunc
}

// CommandFunc is a function that handles a command
type CommandFunc func(ctx context.Context, cmd CommandContext) error

// CommandContext contains command metadata
type CommandContext struct {
	ChatID      int64
	MessageID   int
	UserID      int64
	Username    string
	DisplayName string
	Command     string
	Args        []string
	RawArgs     string
}

// NewCommands creates a new command handler
func NewCommands(sender Sender, logger zerolog.Logger) *Commands {
	return &Commands{
		sender:   sender,
		logger:   logger.With().Str("module", "commands").Logger(),
		handlers: make(map[string]registeredCommand),
	}
}

// HandleCommand processes a command message. Messages that are not commands
// are ignored. "/cmd@otherbot" addressed to another bot is still routed by
// its bare command name.
func (c *Commands) HandleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	if msg == nil || msg.From == nil || !msg.IsCommand() {
		return nil
	}

	command := strings.ToLower(msg.Command())
	raw := msg.CommandArguments()

	cmd := CommandContext{
		ChatID:      msg.Chat.ID,
		MessageID:   msg.MessageID,
		UserID:      msg.From.ID,
		Username:    msg.From.UserName,
		DisplayName: DisplayName(msg.From),
		Command:     command,
		Args:        strings.Fields(raw),
		RawArgs:     strings.TrimSpace(raw),
	}

	c.logger.Debug().
		Int64("chat_id", cmd.ChatID).
		Str("command", command).
		Strs("args", cmd.Args).
		Msg("Command received")

	registered, exists := c.handlers[command]
	if !exists {
		return c.sendUnknownCommand(ctx, cmd)
	}

	return registered.handler(ctx, cmd)
}

// Register registers a command handler. The description is shown in the
// Telegram command menu; an empty description keeps the command hidden.
func (c *Commands) Register(command, description string, handler CommandFunc) {
	c.handlers[command] = registeredCommand{description: description, handler: handler}
	c.logger.Debug().Str("command", command).Msg("Command registered")
}

// Unregister removes a command handler
func (c *Commands) Unregister(command string) {
	delete(c.handlers, command)
}

// Menu returns the visible commands for SetCommands, sorted by name
func (c *Commands) Menu() []tgbotapi.BotCommand {
	menu := make([]tgbotapi.BotCommand, 0, len(c.handlers))
	for _, name := range c.GetRegisteredCommands() {
		if desc := c.handlers[name].description; desc != "" {
			menu = append(menu, tgbotapi.BotCommand{Command: name, Description: desc})
		}
	}
	return menu
}

// GetRegisteredCommands returns all registered commands, sorted
func (c *Commands) GetRegisteredCommands() []string {
	commands := make([]string, 0, len(c.handlers))
	for cmd := range c.handlers {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}

func (c *Commands) sendUnknownCommand(ctx context.Context, cmd CommandContext) error {
	text := fmt.Sprintf("Unknown command: /%s\nSend /help to see what I can do.", cmd.Command)
	_, err := c.sender.Notify(ctx, cmd.ChatID, text, nil)
	return err
}

// DisplayName is the name used in greetings and the leaderboard
func DisplayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return fmt.Sprintf("user %d", u.ID)
}
