package daemon

import (
	"fmt"
	"strconv"
	"strings"
)

// ActionKind enumerates every inline button the bot emits. Callback data that
// does not parse into one of these is rejected.
type ActionKind int

const (
	ActionMainMenu ActionKind = iota + 1
	ActionSequenceMenu
	ActionSequenceStart
	ActionSequenceEnd
	ActionRecheckStart
	ActionRecheckEnd
	ActionChannelPanel
	ActionChannelAdd
	ActionChannelRemove
	ActionLeaderboard
	ActionUsers
	ActionHelp
	ActionClose
)

// Action is a parsed callback. ChannelID is set only for ActionChannelRemove.
type Action struct {
	Kind      ActionKind
	ChannelID int64
}

var actionData = map[ActionKind]string{
	ActionMainMenu:      "menu",
	ActionSequenceMenu:  "seq:menu",
	ActionSequenceStart: "seq:start",
	ActionSequenceEnd:   "seq:end",
	ActionRecheckStart:  "recheck:start",
	ActionRecheckEnd:    "recheck:end",
	ActionChannelPanel:  "fsub:panel",
	ActionChannelAdd:    "fsub:add",
	ActionLeaderboard:   "lb",
	ActionUsers:         "users",
	ActionHelp:          "help",
	ActionClose:         "close",
}

var actionByData = func() map[string]ActionKind {
	m := make(map[string]ActionKind, len(actionData))
	for kind, data := range actionData {
		m[data] = kind
	}
	return m
}()

const removePrefix = "fsub:rm:"

// Encode returns the callback data for the action. Telegram caps callback
// data at 64 bytes; every encoding stays well below.
func (a Action) Encode() string {
	if a.Kind == ActionChannelRemove {
		return removePrefix + strconv.FormatInt(a.ChannelID, 10)
	}
	return actionData[a.Kind]
}

// ParseAction decodes callback data produced by Encode.
func ParseAction(data string) (Action, error) {
	if kind, ok := actionByData[data]; ok {
		return Action{Kind: kind}, nil
	}

	if rest, ok := strings.CutPrefix(data, removePrefix); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return Action{}, fmt.Errorf("invalid channel id in %q: %w", data, err)
		}
		return Action{Kind: ActionChannelRemove, ChannelID: id}, nil
	}

	return Action{}, fmt.Errorf("unknown action %q", data)
}

func act(kind ActionKind) string {
	return Action{Kind: kind}.Encode()
}

func removeAction(channelID int64) string {
	return Action{Kind: ActionChannelRemove, ChannelID: channelID}.Encode()
}
