package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	persistentchat "github.com/Komeiji-Shiki/persistent-chat"
	"github.com/Komeiji-Shiki/persistent-chat/internal/config"
	"github.com/Komeiji-Shiki/persistent-chat/internal/handler"
	"github.com/Komeiji-Shiki/persistent-chat/internal/middleware"
	"github.com/Komeiji-Shiki/persistent-chat/internal/repository"
	"github.com/Komeiji-Shiki/persistent-chat/internal/service"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the chat log database
	db, err := repository.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	migrationsFS, err := fs.Sub(persistentchat.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("failed to load embedded migrations", "error", err)
		os.Exit(1)
	}
	if err := repository.RunMigrations(db, migrationsFS); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize services
	media, err := service.NewMediaStore(cfg.DataDir)
	if err != nil {
		slog.Error("failed to create media store", "error", err)
		os.Exit(1)
	}
	logs := service.NewChatLogService(db)
	normalizer := service.NewNormalizer(media)
	contexts := service.NewContextService(cfg, logs, media)
	openRouter := service.NewOpenRouterService(cfg.OpenRouterKey)

	// Handler pointer for use in the default handler closure
	var h *handler.Handler

	// Create bot
	opts := []bot.Option{
		bot.WithMiddlewares(
			middleware.Recover(),
			middleware.Logging(),
		),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if h == nil {
				return
			}
			h.HandleText(ctx, b, update)
		}),
	}

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		slog.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	// Get bot info
	me, err := b.GetMe(ctx)
	if err != nil {
		slog.Error("failed to get bot info", "error", err)
		os.Exit(1)
	}

	// Initialize handler
	h = handler.New(handler.Deps{
		Bot:        b,
		Cfg:        cfg,
		Logs:       logs,
		Media:      media,
		Normalizer: normalizer,
		Contexts:   contexts,
		OpenRouter: openRouter,
		SelfID:     strconv.FormatInt(me.ID, 10),
	})

	// Register command handlers
	h.Register()

	// Start bot
	slog.Info("starting bot", "username", me.Username, "id", me.ID)
	b.Start(ctx)

	slog.Info("bot stopped gracefully")
}
