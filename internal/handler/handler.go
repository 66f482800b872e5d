package handler

import (
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/Komeiji-Shiki/persistent-chat/internal/config"
	"github.com/Komeiji-Shiki/persistent-chat/internal/service"
)

// Handler holds all dependencies needed by message and command handlers.
type Handler struct {
	bot        *bot.Bot
	cfg        *config.Config
	logs       *service.ChatLogService
	media      *service.MediaStore
	normalizer *service.Normalizer
	contexts   *service.ContextService
	openRouter *service.OpenRouterService
	selfID     string
}

// Deps contains all dependencies required to construct a Handler. SelfID is
// the bot's own sender identifier, used to tell agent rows from user rows.
type Deps struct {
	Bot        *bot.Bot
	Cfg        *config.Config
	Logs       *service.ChatLogService
	Media      *service.MediaStore
	Normalizer *service.Normalizer
	Contexts   *service.ContextService
	OpenRouter *service.OpenRouterService
	SelfID     string
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		bot:        deps.Bot,
		cfg:        deps.Cfg,
		logs:       deps.Logs,
		media:      deps.Media,
		normalizer: deps.Normalizer,
		contexts:   deps.Contexts,
		openRouter: deps.OpenRouter,
		selfID:     deps.SelfID,
	}
}

// sessionID scopes history to one conversation: chat type and ID, plus the
// forum topic when present.
func sessionID(msg *models.Message) string {
	id := fmt.Sprintf("%s:%d", msg.Chat.Type, msg.Chat.ID)
	if msg.MessageThreadID != 0 {
		id = fmt.Sprintf("%s:%d", id, msg.MessageThreadID)
	}
	return id
}
