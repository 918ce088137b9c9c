package daemon

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/harun/seqbot/internal/telegram"
	"github.com/harun/seqbot/pkg/fsub"
	"github.com/harun/seqbot/pkg/sequence"
	"github.com/harun/seqbot/pkg/store"
)

const (
	textUnauthorized  = "⛔ Only the bot owner can do that."
	textNoSession     = "You have no active sequence. Send /startsequence first, then your files."
	textEmptySequence = "Your sequence was empty, so there was nothing to send. It has been closed."
	textAddPrompt     = "Send me the channel @username, t.me link or numeric id.\nI must be an admin in that channel."
	textAddUsage      = "Usage: /addchannel @channel or /addchannel -1001234567890"
)

func (r *Router) mainMenu(userID int64, name string) (string, telegram.Keyboard) {
	text := r.messages.Start
	if strings.Contains(text, "%s") {
		text = fmt.Sprintf(text, name)
	}

	kb := telegram.Keyboard{
		telegram.Row(telegram.Button{Text: "🎬 Sequence", Data: act(ActionSequenceMenu)}),
		telegram.Row(telegram.Button{Text: "🏆 Leaderboard", Data: act(ActionLeaderboard)}),
	}
	if r.registry.IsOperator(userID) {
		kb = append(kb, telegram.Row(
			telegram.Button{Text: "👥 Users", Data: act(ActionUsers)},
			telegram.Button{Text: "📢 Force Sub", Data: act(ActionChannelPanel)},
		))
	}
	kb = append(kb, telegram.Row(
		telegram.Button{Text: "❓ Help", Data: act(ActionHelp)},
		telegram.Button{Text: "✖️ Close", Data: act(ActionClose)},
	))
	if r.messages.SupportURL != "" {
		kb = append(kb, telegram.Row(telegram.Button{Text: "💬 Support", URL: r.messages.SupportURL}))
	}
	return text, kb
}

func (r *Router) sequenceMenu(userID int64) (string, telegram.Keyboard) {
	text := "No sequence in progress. Start one, send your files in any order, then end it."
	if r.sequences.State(userID) == sequence.Active {
		text = fmt.Sprintf("Sequence in progress: %d file(s) buffered.", r.sequences.Buffered(userID))
	}

	return text, telegram.Keyboard{
		telegram.Row(
			telegram.Button{Text: "▶️ Start", Data: act(ActionSequenceStart)},
			telegram.Button{Text: "⏹ End", Data: act(ActionSequenceEnd)},
		),
		telegram.Row(telegram.Button{Text: "⬅️ Back", Data: act(ActionMainMenu)}),
	}
}

func backKeyboard() telegram.Keyboard {
	return telegram.Keyboard{
		telegram.Row(
			telegram.Button{Text: "⬅️ Back", Data: act(ActionMainMenu)},
			telegram.Button{Text: "✖️ Close", Data: act(ActionClose)},
		),
	}
}

// gateDenied lists a join button per missing channel and a button that
// re-runs the check and then the original operation.
func gateDenied(err *sequence.GateDeniedError, recheck ActionKind) (string, telegram.Keyboard) {
	var kb telegram.Keyboard
	text := "🔒 Please join the channel(s) below to use the bot, then tap \"I've joined\"."

	if len(err.Missing) == 0 {
		text = "⚠️ I could not verify your channel membership right now. Please try again in a moment."
	}

	for _, ch := range err.Missing {
		if url := ch.JoinURL(); url != "" {
			kb = append(kb, telegram.Row(telegram.Button{Text: "Join " + ch.DisplayName(), URL: url}))
		}
	}
	kb = append(kb, telegram.Row(telegram.Button{Text: "✅ I've joined", Data: act(recheck)}))
	return text, kb
}

func channelPanel(channels []fsub.Channel) (string, telegram.Keyboard) {
	var b strings.Builder
	fmt.Fprintf(&b, "📢 Force-subscribe channels (%d/%d)", len(channels), fsub.MaxChannels)
	if len(channels) == 0 {
		b.WriteString("\n\nNone yet. Everyone can use the bot.")
	}

	var kb telegram.Keyboard
	for _, ch := range channels {
		label := telegram.Button{Text: ch.DisplayName(), URL: ch.JoinURL()}
		if label.URL == "" {
			label.Data = act(ActionChannelPanel)
		}
		kb = append(kb, telegram.Row(label, telegram.Button{Text: "❌ Remove", Data: removeAction(ch.ID)}))
	}
	if len(channels) < fsub.MaxChannels {
		kb = append(kb, telegram.Row(telegram.Button{Text: "➕ Add Channel", Data: act(ActionChannelAdd)}))
	}
	kb = append(kb, telegram.Row(telegram.Button{Text: "⬅️ Back", Data: act(ActionMainMenu)}))

	return b.String(), kb
}

func leaderboardText(top []store.UserStat) string {
	if len(top) == 0 {
		return "🏆 Leaderboard\n\nNobody has sequenced any files yet."
	}

	var b strings.Builder
	b.WriteString("🏆 Leaderboard\n")
	for i, u := range top {
		name := u.DisplayName
		if name == "" {
			name = "user " + strconv.FormatInt(u.UserID, 10)
		}
		fmt.Fprintf(&b, "\n%d. %s: %d file(s)", i+1, name, u.FilesSequenced)
	}
	return b.String()
}

func startedText(res sequence.StartResult) string {
	text := "🟢 Sequence started.\n\nSend me your files in any order, then /endsequence."
	if res.Discarded > 0 {
		text += fmt.Sprintf("\n\n%d file(s) from your previous sequence were discarded.", res.Discarded)
	}
	return text
}

func bufferedText(name string, n int) string {
	if name == "" {
		name = "file"
	}
	return fmt.Sprintf("📥 Added %s (%d buffered).", name, n)
}

func replaySummary(report *sequence.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Sequence complete: sent %d of %d file(s) in episode order.", report.Delivered, len(report.Ordered))

	if len(report.Failures) > 0 {
		positions := make([]string, len(report.Failures))
		for i, f := range report.Failures {
			positions[i] = strconv.Itoa(f.Position)
		}
		fmt.Fprintf(&b, "\n⚠️ Could not send the file(s) at position %s.", strings.Join(positions, ", "))
	}
	if report.StatsErr != nil {
		b.WriteString("\nYour leaderboard count could not be updated this time.")
	}
	return b.String()
}
