package handler

import (
	"github.com/go-telegram/bot"
)

// Register registers all command handlers on the bot instance. Plain chat
// messages are routed through the default handler in main.
func (h *Handler) Register() {
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/history", bot.MatchTypePrefix, h.handleHistory)
}
