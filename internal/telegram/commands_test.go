package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	chatID int64
	text   string
	kb     Keyboard
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *fakeSender) Notify(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text, kb: kb})
	return len(s.sent), nil
}

func commandMessage(text string) *tgbotapi.Message {
	cmd := strings.Fields(text)[0]
	return &tgbotapi.Message{
		MessageID: 1,
		From: &tgbotapi.User{
			ID:        12345,
			FirstName: "Test",
			UserName:  "testuser",
		},
		Chat: &tgbotapi.Chat{
			ID:   67890,
			Type: "private",
		},
		Text: text,
		Date: 1234567890,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len(cmd)},
		},
	}
}

func TestRegisterCommand(t *testing.T) {
	commands := NewCommands(&fakeSender{}, zerolog.Nop())

	called := false
	commands.Register("test", "Test command", func(ctx context.Context, cmd CommandContext) error {
		called = true
		return nil
	})
	assert.Len(t, commands.handlers, 1)

	err := commands.HandleCommand(context.Background(), commandMessage("/test"))
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestHandleCommand_WithArgs(t *testing.T) {
	commands := NewCommands(&fakeSender{}, zerolog.Nop())

	var received CommandContext
	commands.Register("addchannel", "", func(ctx context.Context, cmd CommandContext) error {
		received = cmd
		return nil
	})

	err := commands.HandleCommand(context.Background(), commandMessage("/addchannel @anime  extra"))
	require.NoError(t, err)

	assert.Equal(t, "addchannel", received.Command)
	assert.Equal(t, []string{"@anime", "extra"}, received.Args)
	assert.Equal(t, "@anime  extra", received.RawArgs)
	assert.Equal(t, int64(67890), received.ChatID)
	assert.Equal(t, int64(12345), received.UserID)
	assert.Equal(t, "Test", received.DisplayName)
}

func TestHandleCommand_BotSuffix(t *testing.T) {
	commands := NewCommands(&fakeSender{}, zerolog.Nop())

	called := false
	commands.Register("start", "", func(ctx context.Context, cmd CommandContext) error {
		called = true
		return nil
	})

	require.NoError(t, commands.HandleCommand(context.Background(), commandMessage("/start@seq_bot")))
	assert.True(t, called)
}

func TestHandleCommand_Unknown(t *testing.T) {
	sender := &fakeSender{}
	commands := NewCommands(sender, zerolog.Nop())

	require.NoError(t, commands.HandleCommand(context.Background(), commandMessage("/nope")))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(67890), sender.sent[0].chatID)
	assert.Contains(t, sender.sent[0].text, "Unknown command: /nope")
}

func TestHandleCommand_NotCommand(t *testing.T) {
	sender := &fakeSender{}
	commands := NewCommands(sender, zerolog.Nop())

	msg := commandMessage("/x")
	msg.Text = "hello"
	msg.Entities = nil

	assert.NoError(t, commands.HandleCommand(context.Background(), msg))
	assert.NoError(t, commands.HandleCommand(context.Background(), nil))
	assert.Empty(t, sender.sent)
}

func TestHandleCommand_HandlerError(t *testing.T) {
	commands := NewCommands(&fakeSender{}, zerolog.Nop())
	boom := errors.New("boom")
	commands.Register("fail", "", func(context.Context, CommandContext) error { return boom })

	err := commands.HandleCommand(context.Background(), commandMessage("/fail"))
	assert.ErrorIs(t, err, boom)
}

func TestCommands_Menu(t *testing.T) {
	commands := NewCommands(&fakeSender{}, zerolog.Nop())
	noop := func(context.Context, CommandContext) error { return nil }

	commands.Register("startsequence", "Begin a sequence", noop)
	commands.Register("addchannel", "", noop)
	commands.Register("endsequence", "Send files in order", noop)

	assert.Equal(t, []string{"addchannel", "endsequence", "startsequence"}, commands.GetRegisteredCommands())
	assert.Equal(t, []tgbotapi.BotCommand{
		{Command: "endsequence", Description: "Send files in order"},
		{Command: "startsequence", Description: "Begin a sequence"},
	}, commands.Menu())

	commands.Unregister("endsequence")
	assert.Len(t, commands.Menu(), 1)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ann Lee", DisplayName(&tgbotapi.User{ID: 1, FirstName: "Ann", LastName: "Lee"}))
	assert.Equal(t, "Ann", DisplayName(&tgbotapi.User{ID: 1, FirstName: "Ann"}))
	assert.Equal(t, "@ann", DisplayName(&tgbotapi.User{ID: 1, UserName: "ann"}))
	assert.Equal(t, "user 7", DisplayName(&tgbotapi.User{ID: 7}))
	assert.Equal(t, "", DisplayName(nil))
}
