package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Komeiji-Shiki/persistent-chat/internal/domain"
)

const placeholderDownloadFailed = "[image download failed]"

// Normalizer flattens a raw multimodal message into the single line of text
// stored in chat_logs: trimmed text fragments and inline image markers joined
// by single spaces.
type Normalizer struct {
	media *MediaStore
}

func NewNormalizer(media *MediaStore) *Normalizer {
	return &Normalizer{media: media}
}

// Flatten encodes the message parts in order. Image parts are downloaded into
// the media store and contribute their marker, or a literal failure
// placeholder when the download fails. An all-empty input yields ""; callers
// must not persist it.
func (n *Normalizer) Flatten(ctx context.Context, parts []domain.MessagePart) string {
	var frags []string
	for _, p := range parts {
		switch p.Kind {
		case domain.PartText:
			if t := strings.TrimSpace(p.Text); t != "" {
				frags = append(frags, t)
			}
		case domain.PartImage:
			if p.ImageURL == "" {
				continue
			}
			filename, err := n.media.Download(ctx, p.ImageURL)
			if err != nil {
				slog.Error("download image", "error", err, "url", p.ImageURL)
				frags = append(frags, placeholderDownloadFailed)
				continue
			}
			frags = append(frags, domain.ImageMarker(filename))
		}
	}
	return strings.TrimSpace(strings.Join(frags, " "))
}
