package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// Button is an inline keyboard button. A button with a URL opens the link;
// otherwise Data is sent back as a callback query.
type Button struct {
	Text string
	Data string
	URL  string
}

// Keyboard is a set of button rows
type Keyboard [][]Button

// Row groups buttons into one keyboard row
func Row(buttons ...Button) []Button {
	return buttons
}

// Markup converts the keyboard into the Bot API representation
func (k Keyboard) Markup() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(k))
	for _, row := range k {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			if btn.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.Data))
			}
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
