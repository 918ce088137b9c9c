package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Item kinds reported by FileItem
const (
	KindDocument  = "document"
	KindVideo     = "video"
	KindAudio     = "audio"
	KindAnimation = "animation"
)

// FileItem reports whether msg carries a sequenceable file, and if so its
// name and kind. A file without a name falls back to the caption so it
// still gets a key.
func FileItem(msg *tgbotapi.Message) (name, kind string, ok bool) {
	if msg == nil {
		return "", "", false
	}

	switch {
	case msg.Document != nil:
		name, kind = msg.Document.FileName, KindDocument
	case msg.Video != nil:
		name, kind = msg.Video.FileName, KindVideo
	case msg.Audio != nil:
		name, kind = msg.Audio.FileName, KindAudio
		if name == "" {
			name = msg.Audio.Title
		}
	case msg.Animation != nil:
		name, kind = msg.Animation.FileName, KindAnimation
	default:
		return "", "", false
	}

	if name == "" {
		name = msg.Caption
	}
	return name, kind, true
}

// ParseChannelRef splits a channel reference into a numeric id or a bare
// username. Accepted forms are "-1001234567890", "@name", "name",
// "t.me/name" and "https://t.me/name".
func ParseChannelRef(ref string) (int64, string, error) {
	ref = strings.TrimSpace(ref)
	for _, prefix := range []string{"https://", "http://"} {
		ref = strings.TrimPrefix(ref, prefix)
	}
	ref = strings.TrimPrefix(ref, "t.me/")
	ref = strings.TrimPrefix(ref, "@")
	ref = strings.TrimSuffix(ref, "/")

	if ref == "" {
		return 0, "", fmt.Errorf("empty channel reference")
	}

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return id, "", nil
	}

	if strings.ContainsAny(ref, " /+?") {
		return 0, "", fmt.Errorf("invalid channel reference %q", ref)
	}
	return 0, ref, nil
}
