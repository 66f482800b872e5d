package service

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	persistentchat "github.com/Komeiji-Shiki/persistent-chat"
	"github.com/Komeiji-Shiki/persistent-chat/internal/config"
	"github.com/Komeiji-Shiki/persistent-chat/internal/domain"
	"github.com/Komeiji-Shiki/persistent-chat/internal/repository"
)

const selfID = "bot"

func newTestContextService(t *testing.T, maxHistory int) (*ContextService, *ChatLogService, *MediaStore, *sql.DB) {
	t.Helper()
	dir := t.TempDir()

	db, err := repository.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sub, err := fs.Sub(persistentchat.MigrationsFS, "migrations")
	require.NoError(t, err)
	require.NoError(t, repository.RunMigrations(db, sub))

	media, err := NewMediaStore(dir)
	require.NoError(t, err)

	logs := NewChatLogService(db)
	cfg := &config.Config{MaxHistoryMessages: maxHistory, InjectContext: true}
	return NewContextService(cfg, logs, media), logs, media, db
}

func writeImage(t *testing.T, media *MediaStore, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(media.Dir(), name), []byte("image bytes"), 0o644))
}

func userRequest(text string) *ProviderRequest {
	return &ProviderRequest{
		Model:    "test-model",
		Messages: []ChatMessage{{Role: domain.RoleUser, Content: text}},
	}
}

func TestInjectHistory_EmptyWindow(t *testing.T) {
	svc, _, _, _ := newTestContextService(t, 20)

	req := userRequest("hi")
	svc.InjectHistory(context.Background(), req, "s1", selfID, true)

	assert.Equal(t, []ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, req.Messages)
	assert.Nil(t, req.TextOnlyHistory)
}

func TestInjectHistory_Disabled(t *testing.T) {
	svc, logs, _, _ := newTestContextService(t, 0)
	ctx := context.Background()

	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "earlier"))
	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "hi"))

	req := userRequest("hi")
	svc.InjectHistory(ctx, req, "s1", selfID, true)

	assert.Equal(t, []ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, req.Messages)
}

func TestInjectHistory_RoundTripWithImage(t *testing.T) {
	svc, logs, media, _ := newTestContextService(t, 20)
	ctx := context.Background()
	writeImage(t, media, "pic.png")

	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "hello "+domain.ImageMarker("pic.png")))
	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "hi"))

	req := userRequest("hi")
	svc.InjectHistory(ctx, req, "s1", selfID, true)

	// One user entry: the decoded history turn merged with the live turn.
	require.Len(t, req.Messages, 1)
	parts, ok := req.Messages[0].Content.([]ContentPart)
	require.True(t, ok, "entry with an image keeps its content list")
	require.Len(t, parts, 3)
	assert.Equal(t, partTypeImage, parts[0].Type)
	assert.True(t, strings.HasPrefix(parts[0].ImageURL.URL, "data:image/png;base64,"))
	assert.Equal(t, "Alice: hello", parts[1].Text)
	assert.Equal(t, "hi", parts[2].Text)
}

func TestInjectHistory_RoundTripDeletedImage(t *testing.T) {
	svc, logs, _, _ := newTestContextService(t, 20)
	ctx := context.Background()

	// Marker references a file that no longer exists.
	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "hello "+domain.ImageMarker("gone.png")))
	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "hi"))

	req := userRequest("hi")
	svc.InjectHistory(ctx, req, "s1", selfID, true)

	require.Len(t, req.Messages, 1)
	assert.Equal(t, "Alice: hello hi", req.Messages[0].Content)
}

func TestInjectHistory_CollapseRoles(t *testing.T) {
	svc, logs, _, _ := newTestContextService(t, 20)
	ctx := context.Background()

	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "one"))
	require.NoError(t, logs.Insert(ctx, "s1", "u2", "Bob", "two"))
	require.NoError(t, logs.Insert(ctx, "s1", selfID, "", "ok"))
	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "next"))

	req := userRequest("next")
	svc.InjectHistory(ctx, req, "s1", selfID, true)

	require.Len(t, req.Messages, 3)
	assert.Equal(t, domain.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "Alice: one Bob: two", req.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, req.Messages[1].Role)
	assert.Equal(t, "ok", req.Messages[1].Content)
	assert.Equal(t, domain.RoleUser, req.Messages[2].Role)
	assert.Equal(t, "next", req.Messages[2].Content)
}

func TestInjectHistory_ImageOnlyCurrentTurn(t *testing.T) {
	svc, logs, media, _ := newTestContextService(t, 20)
	ctx := context.Background()
	writeImage(t, media, "solo.png")

	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", domain.ImageMarker("solo.png")))

	req := userRequest("[File]")
	svc.InjectHistory(ctx, req, "s1", selfID, true)

	// The framework text is replaced outright, not merged.
	require.Len(t, req.Messages, 1)
	parts, ok := req.Messages[0].Content.([]ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, partTypeImage, parts[0].Type)
	assert.Equal(t, placeholderImageOnly, parts[1].Text)
}

func TestInjectHistory_ImageOnlyCurrentTurn_FileMissing(t *testing.T) {
	svc, logs, _, _ := newTestContextService(t, 20)
	ctx := context.Background()

	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", domain.ImageMarker("gone.png")))

	req := userRequest("[File]")
	svc.InjectHistory(ctx, req, "s1", selfID, true)

	require.Len(t, req.Messages, 1)
	assert.Equal(t, placeholderImageOnly, req.Messages[0].Content)
}

func TestInjectHistory_CurrentTurnImageWithText(t *testing.T) {
	svc, logs, media, _ := newTestContextService(t, 20)
	ctx := context.Background()
	writeImage(t, media, "pic.png")

	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "look "+domain.ImageMarker("pic.png")))

	req := userRequest("look")
	svc.InjectHistory(ctx, req, "s1", selfID, true)

	require.Len(t, req.Messages, 1)
	parts, ok := req.Messages[0].Content.([]ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, partTypeImage, parts[0].Type)
	assert.Equal(t, "look", parts[1].Text)
}

func TestInjectHistory_SideChannelTranscript(t *testing.T) {
	svc, logs, media, _ := newTestContextService(t, 20)
	ctx := context.Background()
	writeImage(t, media, "pic.png")

	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "hello "+domain.ImageMarker("pic.png")))
	require.NoError(t, logs.Insert(ctx, "s1", selfID, "", "nice photo"))
	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "thanks"))

	req := userRequest("thanks")
	svc.InjectHistory(ctx, req, "s1", selfID, true)

	require.Len(t, req.TextOnlyHistory, 2)
	assert.Equal(t, domain.RoleUser, req.TextOnlyHistory[0].Role)
	assert.Equal(t, "Alice: [image] hello", req.TextOnlyHistory[0].Content)
	assert.Equal(t, domain.RoleAssistant, req.TextOnlyHistory[1].Role)
	assert.Equal(t, "nice photo", req.TextOnlyHistory[1].Content)
}

func TestInjectHistory_WindowLimit(t *testing.T) {
	svc, logs, _, _ := newTestContextService(t, 2)
	ctx := context.Background()

	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "dropped"))
	require.NoError(t, logs.Insert(ctx, "s1", selfID, "", "kept one"))
	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "kept two"))
	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "live"))

	req := userRequest("live")
	svc.InjectHistory(ctx, req, "s1", selfID, true)

	// Two history turns plus the live turn; the user run collapses.
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "kept one", req.Messages[0].Content)
	assert.Equal(t, "Alice: kept two live", req.Messages[1].Content)
}

func TestInjectHistory_UnloggedLiveTurn(t *testing.T) {
	svc, logs, _, _ := newTestContextService(t, 20)
	ctx := context.Background()

	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", "earlier"))
	require.NoError(t, logs.Insert(ctx, "s1", selfID, "", "reply"))

	req := userRequest("hi")
	svc.InjectHistory(ctx, req, "s1", selfID, false)

	// Every stored row is history; the live turn stays as the framework
	// built it.
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "Alice: earlier", req.Messages[0].Content)
	assert.Equal(t, "reply", req.Messages[1].Content)
	assert.Equal(t, "hi", req.Messages[2].Content)
}

func TestInjectHistory_UnloggedLiveTurn_NewestRowIsHistory(t *testing.T) {
	svc, logs, media, _ := newTestContextService(t, 20)
	ctx := context.Background()
	writeImage(t, media, "pic.png")

	require.NoError(t, logs.Insert(ctx, "s1", "u1", "Alice", domain.ImageMarker("pic.png")))

	req := userRequest("hi")
	svc.InjectHistory(ctx, req, "s1", selfID, false)

	// The stored image belongs to a history turn, not to the live message.
	require.Len(t, req.Messages, 1)
	parts, ok := req.Messages[0].Content.([]ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 3)
	assert.Equal(t, partTypeImage, parts[0].Type)
	assert.Equal(t, "Alice: "+placeholderSentImage, parts[1].Text)
	assert.Equal(t, "hi", parts[2].Text)
}

func TestInjectHistory_FailOpenOnStorageError(t *testing.T) {
	svc, _, _, db := newTestContextService(t, 20)

	require.NoError(t, db.Close())

	req := userRequest("hi")
	svc.InjectHistory(context.Background(), req, "s1", selfID, true)

	assert.Equal(t, []ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, req.Messages)
}

func TestMergeAdjacentRoles(t *testing.T) {
	msgs := []ChatMessage{
		{Role: domain.RoleUser, Content: "a"},
		{Role: domain.RoleUser, Content: []ContentPart{newTextPart("b")}},
		{Role: domain.RoleAssistant, Content: "c"},
	}

	merged := mergeAdjacentRoles(msgs)

	require.Len(t, merged, 2)
	parts, ok := merged[0].Content.([]ContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "a", parts[0].Text)
	assert.Equal(t, "b", parts[1].Text)
	assert.Equal(t, "c", merged[1].Content)
}

func TestFlattenTextOnly(t *testing.T) {
	msgs := []ChatMessage{
		{Role: domain.RoleUser, Content: []ContentPart{newTextPart("a"), newTextPart("b")}},
		{Role: domain.RoleUser, Content: []ContentPart{newImagePart("data:x"), newTextPart("c")}},
		{Role: domain.RoleAssistant, Content: "already flat"},
	}

	flattenTextOnly(msgs)

	assert.Equal(t, "a b", msgs[0].Content)
	_, stillList := msgs[1].Content.([]ContentPart)
	assert.True(t, stillList, "entries with an image part keep their content list")
	assert.Equal(t, "already flat", msgs[2].Content)
}
