package daemon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/seqbot/internal/config"
	"github.com/harun/seqbot/internal/telegram"
	"github.com/harun/seqbot/pkg/commandqueue"
	"github.com/harun/seqbot/pkg/fsub"
	"github.com/harun/seqbot/pkg/sequence"
	"github.com/harun/seqbot/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	ownerID int64 = 1000
	userID  int64 = 42
)

type outgoing struct {
	chatID    int64
	messageID int
	text      string
	kb        telegram.Keyboard
	edit      bool
}

type callbackAnswer struct {
	id    string
	text  string
	alert bool
}

type forwarded struct {
	dest int64
	ref  sequence.ItemRef
}

// fakeBot records everything the daemon asks the transport to do
type fakeBot struct {
	mu       sync.Mutex
	nextID   int
	out      []outgoing
	deleted  []int
	answers  []callbackAnswer
	forwards []forwarded
	members  map[int64]fsub.MemberStatus
	chats    map[string]fsub.Channel
	handler  telegram.UpdateHandler
	commands []tgbotapi.BotCommand
	running  bool
	failCopy map[int]bool
}

func newFakeBot() *fakeBot {
	return &fakeBot{
		nextID:   500,
		members:  make(map[int64]fsub.MemberStatus),
		chats:    make(map[string]fsub.Channel),
		failCopy: make(map[int]bool),
	}
}

func (b *fakeBot) Notify(ctx context.Context, chatID int64, text string, kb telegram.Keyboard) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.out = append(b.out, outgoing{chatID: chatID, messageID: b.nextID, text: text, kb: kb})
	return b.nextID, nil
}

func (b *fakeBot) Edit(ctx context.Context, chatID int64, messageID int, text string, kb telegram.Keyboard) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = append(b.out, outgoing{chatID: chatID, messageID: messageID, text: text, kb: kb, edit: true})
	return nil
}

func (b *fakeBot) Delete(ctx context.Context, chatID int64, messageID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, messageID)
	return nil
}

func (b *fakeBot) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers = append(b.answers, callbackAnswer{id: callbackID, text: text, alert: alert})
	return nil
}

func (b *fakeBot) ResolveChannel(ctx context.Context, ref string) (fsub.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.chats[strings.TrimPrefix(ref, "@")]
	if !ok {
		return fsub.Channel{}, fmt.Errorf("chat not found")
	}
	return ch, nil
}

func (b *fakeBot) ForwardItem(ctx context.Context, dest int64, ref sequence.ItemRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCopy[ref.MessageID] {
		return fmt.Errorf("message to copy not found")
	}
	b.forwards = append(b.forwards, forwarded{dest: dest, ref: ref})
	return nil
}

// Membership reports users without a configured status as left
func (b *fakeBot) Membership(ctx context.Context, channelID, userID int64) (fsub.MemberStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status, ok := b.members[userID]
	if !ok {
		return fsub.MemberLeft, nil
	}
	return status, nil
}

func (b *fakeBot) SetHandler(handler telegram.UpdateHandler) {
	b.handler = handler
}

func (b *fakeBot) SetCommands(commands []tgbotapi.BotCommand) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = commands
	return nil
}

func (b *fakeBot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	return nil
}

func (b *fakeBot) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	return nil
}

func (b *fakeBot) setMember(userID int64, status fsub.MemberStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[userID] = status
}

func (b *fakeBot) addChat(username string, ch fsub.Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chats[username] = ch
}

func (b *fakeBot) messages() []outgoing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]outgoing(nil), b.out...)
}

func (b *fakeBot) last(t *testing.T) outgoing {
	t.Helper()
	msgs := b.messages()
	require.NotEmpty(t, msgs, "no message was sent")
	return msgs[len(msgs)-1]
}

func (b *fakeBot) forwardedIDs() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int, len(b.forwards))
	for i, f := range b.forwards {
		ids[i] = f.ref.MessageID
	}
	return ids
}

type fakeAuditor struct {
	mu      sync.Mutex
	reports []*sequence.Report
}

func (a *fakeAuditor) RecordSequence(ctx context.Context, owner int64, report *sequence.Report) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reports = append(a.reports, report)
}

type routerFixture struct {
	bot       *fakeBot
	store     *store.MemoryStore
	registry  *fsub.Registry
	sequences *sequence.Manager
	auditor   *fakeAuditor
	router    *Router
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	queue := commandqueue.New(zerolog.Nop())
	t.Cleanup(func() { _ = queue.Close() })

	bot := newFakeBot()
	st := store.NewMemoryStore()
	registry := fsub.NewRegistry(st, ownerID, zerolog.Nop())
	gate := fsub.NewGate(registry, bot, zerolog.Nop())
	sequences := sequence.NewManager(queue, gate, bot, st, sequence.Config{}, zerolog.Nop())
	auditor := &fakeAuditor{}

	router := NewRouter(RouterDeps{
		Messenger:  bot,
		Queue:      queue,
		Sequences:  sequences,
		Registry:   registry,
		Store:      st,
		Audit:      auditor,
		Messages:   config.DefaultConfig().Messages,
		PendingTTL: time.Minute,
		Logger:     zerolog.Nop(),
	})

	return &routerFixture{
		bot:       bot,
		store:     st,
		registry:  registry,
		sequences: sequences,
		auditor:   auditor,
		router:    router,
	}
}

// send dispatches an update synchronously
func (f *routerFixture) send(t *testing.T, update tgbotapi.Update) {
	t.Helper()
	require.NoError(t, f.router.dispatch(context.Background(), update))
}

var msgSeq = 0

func privateMessage(from int64, text string) *tgbotapi.Message {
	msgSeq++
	msg := &tgbotapi.Message{
		MessageID: msgSeq,
		From:      &tgbotapi.User{ID: from, FirstName: "Ann"},
		Chat:      &tgbotapi.Chat{ID: from, Type: "private"},
		Date:      int(time.Now().Unix()),
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func textUpdate(from int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: privateMessage(from, text)}
}

func fileUpdate(from int64, messageID int, name string) tgbotapi.Update {
	msg := privateMessage(from, "")
	msg.MessageID = messageID
	msg.Document = &tgbotapi.Document{FileID: fmt.Sprintf("file-%d", messageID), FileName: name}
	return tgbotapi.Update{Message: msg}
}

func callbackUpdate(from int64, data string, messageID int) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   fmt.Sprintf("cb-%d", messageID),
		From: &tgbotapi.User{ID: from, FirstName: "Ann"},
		Message: &tgbotapi.Message{
			MessageID: messageID,
			Chat:      &tgbotapi.Chat{ID: from, Type: "private"},
		},
		Data: data,
	}}
}

func buttonData(kb telegram.Keyboard) []string {
	var out []string
	for _, row := range kb {
		for _, b := range row {
			if b.Data != "" {
				out = append(out, b.Data)
			}
		}
	}
	return out
}

func buttonURLs(kb telegram.Keyboard) []string {
	var out []string
	for _, row := range kb {
		for _, b := range row {
			if b.URL != "" {
				out = append(out, b.URL)
			}
		}
	}
	return out
}
