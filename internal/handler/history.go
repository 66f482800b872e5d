package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/Komeiji-Shiki/persistent-chat/internal/config"
	"github.com/Komeiji-Shiki/persistent-chat/internal/domain"
	"github.com/Komeiji-Shiki/persistent-chat/internal/render"
	tg "github.com/Komeiji-Shiki/persistent-chat/internal/telegram"
)

const historyUsage = "Usage: /history view [count] | clear | clearall"

// handleHistory dispatches the /history command group.
func (h *Handler) handleHistory(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	fields := strings.Fields(msg.Text)
	sub := "view"
	if len(fields) > 1 {
		sub = fields[1]
	}

	switch sub {
	case "view":
		h.handleHistoryView(ctx, b, msg, fields)
	case "clear":
		h.handleHistoryClear(ctx, b, msg)
	case "clearall":
		h.handleHistoryClearAll(ctx, b, msg)
	default:
		b.SendMessage(ctx, &bot.SendMessageParams{ChatID: msg.Chat.ID, Text: historyUsage})
	}
}

// handleHistoryView replies with the most recent turns rendered as an image
// of formatted text.
func (h *Handler) handleHistoryView(ctx context.Context, b *bot.Bot, msg *models.Message, fields []string) {
	chatID := msg.Chat.ID

	count := config.DefaultViewCount
	if len(fields) > 2 {
		n, err := strconv.Atoi(fields[2])
		if err != nil {
			b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: historyUsage})
			return
		}
		count = n
	}
	if count <= 0 || count > config.MaxViewCount {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   fmt.Sprintf("The view count must be between 1 and %d.", config.MaxViewCount),
		})
		return
	}

	session := sessionID(msg)
	turns, err := h.logs.MostRecent(ctx, session, count)
	if err != nil {
		slog.Error("view history", "error", err, "session_id", session)
		b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: "Failed to load chat history."})
		return
	}
	if len(turns) == 0 {
		b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: "No chat history for this chat."})
		return
	}

	// Back to chronological order for display.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Last %d messages:\n", len(turns))
	sb.WriteString(strings.Repeat("-", 20))
	for _, t := range turns {
		name := t.SenderName
		if name == "" {
			name = "unknown"
		}
		fmt.Fprintf(&sb, "\n[%s]: %s", name, t.MessageText)
	}

	img, err := render.TextImage(sb.String())
	if err != nil {
		slog.Error("render history image", "error", err, "session_id", session)
		if err := tg.SendLongMessage(ctx, b, chatID, sb.String()); err != nil {
			slog.Error("send history text", "error", err, "session_id", session)
		}
		return
	}
	if err := tg.SendPhotoBytes(ctx, b, chatID, "history.png", img, ""); err != nil {
		slog.Error("send history image", "error", err, "session_id", session)
		if err := tg.SendLongMessage(ctx, b, chatID, sb.String()); err != nil {
			slog.Error("send history text", "error", err, "session_id", session)
		}
	}
}

// handleHistoryClear removes the current session's turns and the images they
// reference.
func (h *Handler) handleHistoryClear(ctx context.Context, b *bot.Bot, msg *models.Message) {
	chatID := msg.Chat.ID
	session := sessionID(msg)

	texts, err := h.logs.SessionTexts(ctx, session)
	if err != nil {
		slog.Error("collect session images", "error", err, "session_id", session)
		b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: "Failed to clear chat history."})
		return
	}

	images := map[string]struct{}{}
	for _, text := range texts {
		for _, name := range domain.ExtractImageMarkers(text) {
			images[name] = struct{}{}
		}
	}

	deleted, err := h.logs.DeleteSession(ctx, session)
	if err != nil {
		slog.Error("clear session", "error", err, "session_id", session)
		b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: "Failed to clear chat history."})
		return
	}

	deletedImages := 0
	for name := range images {
		if err := h.media.Delete(name); err != nil {
			slog.Warn("delete image", "error", err, "file", name)
			continue
		}
		deletedImages++
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   fmt.Sprintf("Cleared %d messages and %d linked images for this chat.", deleted, deletedImages),
	})
}

// handleHistoryClearAll removes every session's turns and the whole image
// directory. Admin only.
func (h *Handler) handleHistoryClearAll(ctx context.Context, b *bot.Bot, msg *models.Message) {
	chatID := msg.Chat.ID

	if !h.cfg.IsAdmin(msg.From.ID) {
		b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   "Only administrators can clear all history.",
		})
		return
	}

	deleted, err := h.logs.DeleteAll(ctx)
	if err != nil {
		slog.Error("clear all history", "error", err)
		b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: "Failed to clear all history."})
		return
	}
	if err := h.media.DeleteAll(); err != nil {
		slog.Error("clear all images", "error", err)
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   fmt.Sprintf("Cleared %d messages and all cached images.", deleted),
	})
}
