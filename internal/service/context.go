package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/Komeiji-Shiki/persistent-chat/internal/config"
	"github.com/Komeiji-Shiki/persistent-chat/internal/domain"
)

const (
	placeholderSentImage = "[user sent an image]"
	placeholderImageOnly = "[user's latest message contains only an image]"
	imageGlyph           = "[image]"
	fallbackDisplayName  = "User"

	partTypeText  = "text"
	partTypeImage = "image_url"
)

// ContentPart is one element of a multimodal context entry.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

func newTextPart(text string) ContentPart {
	return ContentPart{Type: partTypeText, Text: text}
}

func newImagePart(uri string) ContentPart {
	return ContentPart{Type: partTypeImage, ImageURL: &ImageURL{URL: uri}}
}

// ContextService rebuilds stored session history into multimodal provider
// context and merges it with the live turn.
type ContextService struct {
	cfg   *config.Config
	logs  *ChatLogService
	media *MediaStore
}

func NewContextService(cfg *config.Config, logs *ChatLogService, media *MediaStore) *ContextService {
	return &ContextService{cfg: cfg, logs: logs, media: media}
}

// InjectHistory replaces req.Messages with the session's stored history merged
// with the framework-assembled current turn, and fills req.TextOnlyHistory
// with a plain-text transcript of the injected turns.
//
// liveRecorded reports whether the triggering message was inserted into the
// chat log before this call. When true the newest stored row is taken to be
// the live turn and is folded into the current context instead of the history;
// when false (logging disabled for the chat, or the insert failed) every
// fetched row is history and the current turn is left as the framework built
// it.
//
// Never fails the request: on any error or panic the request keeps whatever
// context state it had at the point of failure.
func (s *ContextService) InjectHistory(ctx context.Context, req *ProviderRequest, sessionID, selfID string, liveRecorded bool) {
	maxHistory := s.cfg.MaxHistoryMessages
	if maxHistory <= 0 {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("history injection panicked",
				"panic", r,
				"stack", string(debug.Stack()),
				"session_id", sessionID,
			)
		}
	}()

	limit := maxHistory
	if liveRecorded {
		limit++
	}
	rows, err := s.logs.MostRecent(ctx, sessionID, limit)
	if err != nil {
		slog.Error("fetch history window", "error", err, "session_id", sessionID)
		return
	}
	if len(rows) == 0 {
		// Nothing stored yet; the framework context stands as-is.
		return
	}

	// When the live message was logged, the newest row duplicates it and is
	// peeled off; the rest is history, restored to chronological order.
	historyRows := rows
	if liveRecorded {
		historyRows = rows[1:]
	}
	for i, j := 0, len(historyRows)-1; i < j; i, j = i+1, j-1 {
		historyRows[i], historyRows[j] = historyRows[j], historyRows[i]
	}

	var history, textOnly []ChatMessage
	for _, row := range historyRows {
		msg, plain, ok := s.decodeTurn(row, selfID)
		if !ok {
			continue
		}
		history = append(history, msg)
		textOnly = append(textOnly, plain)
	}

	current := req.Messages
	if liveRecorded {
		s.enhanceCurrentTurn(current, rows[0])
	}

	final := append(history, current...)
	req.TextOnlyHistory = textOnly
	if len(final) == 0 {
		return
	}

	merged := mergeAdjacentRoles(final)
	flattenTextOnly(merged)
	req.Messages = merged

	slog.Debug("history injected",
		"session_id", sessionID,
		"history_turns", len(history),
		"final_contexts", len(merged),
	)
}

// decodeTurn converts a stored row back into a multimodal context entry plus
// its plain-text rendering. ok is false when the turn contributes nothing
// (all its images are gone and it has no text).
func (s *ContextService) decodeTurn(row domain.ChatTurn, selfID string) (msg, plain ChatMessage, ok bool) {
	role := domain.RoleUser
	if row.SenderID == selfID {
		role = domain.RoleAssistant
	}

	markers := domain.ExtractImageMarkers(row.MessageText)
	text := strings.TrimSpace(domain.StripImageMarkers(row.MessageText))
	if len(markers) > 0 && text == "" {
		text = placeholderSentImage
	}

	var parts []ContentPart
	for _, name := range markers {
		if uri, found := s.media.DataURI(name); found {
			parts = append(parts, newImagePart(uri))
		}
	}
	if text != "" {
		parts = append(parts, newTextPart(text))
	}
	if len(parts) == 0 {
		return ChatMessage{}, ChatMessage{}, false
	}

	plainText := strings.TrimSpace(strings.Repeat(imageGlyph, len(markers)) + " " + text)

	if role == domain.RoleUser {
		name := row.SenderName
		if name == "" {
			name = fallbackDisplayName
		}
		plainText = name + ": " + plainText
		if !prefixDisplayName(parts, name) {
			parts = append([]ContentPart{newTextPart(name + ": ")}, parts...)
		}
	}

	return ChatMessage{Role: role, Content: parts},
		ChatMessage{Role: role, Content: plainText},
		true
}

// prefixDisplayName prepends "<name>: " onto the first text part and reports
// whether one was found.
func prefixDisplayName(parts []ContentPart, name string) bool {
	for i := range parts {
		if parts[i].Type == partTypeText {
			parts[i].Text = name + ": " + parts[i].Text
			return true
		}
	}
	return false
}

// enhanceCurrentTurn mutates the last user entry of the framework-supplied
// context with the images recorded for the live message. An image-only
// message replaces the entry text with a placeholder; any recorded image is
// prepended to the entry's content in marker order.
func (s *ContextService) enhanceCurrentTurn(current []ChatMessage, row domain.ChatTurn) {
	target := -1
	for i := len(current) - 1; i >= 0; i-- {
		if current[i].Role == domain.RoleUser {
			target = i
			break
		}
	}
	if target == -1 {
		return
	}

	markers := domain.ExtractImageMarkers(row.MessageText)
	if len(markers) == 0 {
		return
	}
	text := strings.TrimSpace(domain.StripImageMarkers(row.MessageText))

	if text == "" {
		current[target].Content = []ContentPart{newTextPart(placeholderImageOnly)}
	}

	var images []ContentPart
	for _, name := range markers {
		if uri, found := s.media.DataURI(name); found {
			images = append(images, newImagePart(uri))
		}
	}
	current[target].Content = append(images, coerceParts(current[target].Content)...)
}

// coerceParts normalizes an entry's content to a part list. Scalar content
// becomes a single text part.
func coerceParts(content any) []ContentPart {
	switch v := content.(type) {
	case []ContentPart:
		return v
	case string:
		return []ContentPart{newTextPart(v)}
	case nil:
		return nil
	default:
		return []ContentPart{newTextPart(fmt.Sprint(v))}
	}
}

// mergeAdjacentRoles collapses runs of same-role entries into single entries,
// concatenating their content lists in order, so the result strictly
// alternates roles.
func mergeAdjacentRoles(msgs []ChatMessage) []ChatMessage {
	merged := []ChatMessage{msgs[0]}
	for _, m := range msgs[1:] {
		last := &merged[len(merged)-1]
		if m.Role == last.Role {
			last.Content = append(coerceParts(last.Content), coerceParts(m.Content)...)
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

// flattenTextOnly rewrites entries whose content is purely text parts into the
// plain-string shape providers expect when no image is present.
func flattenTextOnly(msgs []ChatMessage) {
	for i := range msgs {
		parts, isList := msgs[i].Content.([]ContentPart)
		if !isList {
			continue
		}
		allText := true
		for _, p := range parts {
			if p.Type != partTypeText {
				allText = false
				break
			}
		}
		if !allText {
			continue
		}
		texts := make([]string, len(parts))
		for j, p := range parts {
			texts[j] = p.Text
		}
		msgs[i].Content = strings.TrimSpace(strings.Join(texts, " "))
	}
}
