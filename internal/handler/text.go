package handler

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/Komeiji-Shiki/persistent-chat/internal/config"
	"github.com/Komeiji-Shiki/persistent-chat/internal/domain"
	"github.com/Komeiji-Shiki/persistent-chat/internal/service"
	tg "github.com/Komeiji-Shiki/persistent-chat/internal/telegram"
)

// HandleText processes incoming chat messages: the turn is logged first, then
// stored history is injected into the provider request, the model is called,
// and the reply is sent and logged. Logging before injection is load-bearing:
// when the turn was stored, the injector treats the newest row as the live
// message.
func (h *Handler) HandleText(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	// Commands are handled elsewhere and never logged.
	if strings.HasPrefix(msg.Text, "/") {
		return
	}

	chatID := msg.Chat.ID
	session := sessionID(msg)
	isPrivate := msg.Chat.Type == "private"

	shouldLog := (isPrivate && h.cfg.LogPrivateMessages) || (!isPrivate && h.cfg.LogGroupMessages)

	logged := false
	if shouldLog {
		normalized := h.normalizer.Flatten(ctx, h.messageParts(ctx, b, msg))
		if normalized != "" {
			err := h.logs.Insert(ctx, session, strconv.FormatInt(msg.From.ID, 10), senderName(msg.From), normalized)
			if err != nil {
				slog.Error("log chat message", "error", err, "session_id", session)
			} else {
				logged = true
			}
		}
	}

	userText := msg.Text
	if msg.Caption != "" {
		userText = msg.Caption
	}
	if userText == "" {
		userText = "[File]"
	}

	req := &service.ProviderRequest{
		Model: h.cfg.Model,
		Messages: []service.ChatMessage{
			{Role: domain.RoleUser, Content: userText},
		},
	}

	if h.cfg.InjectContext {
		h.contexts.InjectHistory(ctx, req, session, h.selfID, logged)
	}

	stopTyping := tg.StartTyping(ctx, b, chatID)
	defer stopTyping()

	reqCtx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
	defer cancel()

	resp, err := h.openRouter.Chat(reqCtx, req)
	if err != nil {
		slog.Error("openrouter chat", "error", err, "session_id", session)
		errText := "Something went wrong while processing your request."
		if strings.Contains(err.Error(), "429") {
			errText = "Too many requests to the AI service. Try again later."
		} else if reqCtx.Err() != nil {
			errText = "The AI service took too long to respond."
		}
		b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: errText})
		return
	}
	if len(resp.Choices) == 0 {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "The AI service returned no answer.",
		})
		return
	}

	slog.Debug("ai response",
		"session_id", session,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	responseText := resp.Choices[0].Message.Content
	if err := tg.SendLongMessage(ctx, b, chatID, responseText); err != nil {
		slog.Error("send response", "error", err, "session_id", session)
	}

	if h.cfg.LogSelfMessages {
		if err := h.logs.Insert(ctx, session, h.selfID, "", strings.TrimSpace(responseText)); err != nil {
			slog.Error("log bot response", "error", err, "session_id", session)
		}
	}
}

// messageParts converts a Telegram message into the multimodal parts the
// normalizer understands: the text or caption, plus the highest-resolution
// photo if one is attached.
func (h *Handler) messageParts(ctx context.Context, b *bot.Bot, msg *models.Message) []domain.MessagePart {
	var parts []domain.MessagePart

	text := msg.Text
	if msg.Caption != "" {
		text = msg.Caption
	}
	if text != "" {
		parts = append(parts, domain.MessagePart{Kind: domain.PartText, Text: text})
	}

	if len(msg.Photo) > 0 {
		photo := msg.Photo[len(msg.Photo)-1]
		url, err := tg.GetFileURL(ctx, b, photo.FileID)
		if err != nil {
			slog.Error("get photo url", "error", err)
		} else {
			parts = append(parts, domain.MessagePart{Kind: domain.PartImage, ImageURL: url})
		}
	}

	return parts
}

func senderName(from *models.User) string {
	if from.FirstName != "" {
		return from.FirstName
	}
	return from.Username
}
