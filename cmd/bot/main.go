package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"botbridge/internal/adapter/backend"
	"botbridge/internal/adapter/channel"
	"botbridge/internal/adapter/store"
	"botbridge/internal/domain"
	"botbridge/internal/infra/config"
	"botbridge/internal/infra/logger"
	"botbridge/internal/infra/tracer"
	"botbridge/internal/usecase"
	"botbridge/internal/usecase/stream"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`botbridge - stream assistant answers into chat platforms

USAGE:
    botbridge [FLAGS]

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    ${VAR} references in the file are expanded from the environment,
    so tokens and API keys can stay out of the file itself.

EXAMPLES:
    botbridge                          # Run with config.yaml
    botbridge --config /etc/botbridge/config.yaml`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("BOTBRIDGE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Session store
	sessions, err := store.NewSQLiteSessionStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer sessions.Close()

	// 4. Backend client
	client, err := backend.New(cfg.Backend, logger.Component(log, "backend"))
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	linker := backend.NewLinkBreaker(client, logger.Component(log, "backend.auth"))

	// 5. Bot
	bot := usecase.NewBot(client, linker, logger.Component(log, "bot"))
	bot.SetStore(sessions)
	bot.SetAuthChecker(client)
	bot.SetRateGate(usecase.NewRateGate(cfg.RateLimit.PerUserPerMinute, cfg.RateLimit.Burst))

	// 6. Channels
	channels, err := buildChannels(cfg, bot, log)
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		return fmt.Errorf("no platforms enabled in %s", configPath())
	}

	// 7. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("botbridge starting",
		"backend", cfg.Backend.BaseURL,
		"store", cfg.Store.Path,
		"channels", len(channels),
	)

	handler := bot.Handler()

	var wg sync.WaitGroup
	errCh := make(chan error, len(channels))
	for _, ch := range channels {
		wg.Add(1)
		go func(c domain.Channel) {
			defer wg.Done()
			if err := c.Start(ctx, handler); err != nil {
				errCh <- fmt.Errorf("channel %s: %w", c.Name(), err)
				cancel()
			}
		}(ch)
	}
	wg.Wait()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	for _, ch := range channels {
		if err := ch.Stop(stopCtx); err != nil {
			log.Error("channel stop error", "channel", ch.Name(), "error", err)
		}
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// buildChannels constructs one channel per enabled platform and registers its
// display tuning with the bot.
func buildChannels(cfg *config.Config, bot *usecase.Bot, log *slog.Logger) ([]domain.Channel, error) {
	var channels []domain.Channel
	for _, pc := range cfg.EnabledPlatforms() {
		p := domain.Platform(pc.Name)

		limits := stream.DefaultLimits()
		if pc.CharLimit > 0 {
			limits[p] = pc.CharLimit
		}
		bot.SetDisplayOptions(p, stream.Options{
			Platform:     p,
			EditInterval: pc.EditIntervalDuration(),
			Streaming:    pc.StreamingEnabled(),
			Limits:       limits,
		})

		chLog := logger.Component(log, "channel."+pc.Name)
		switch p {
		case domain.PlatformTelegram:
			channels = append(channels, channel.NewTelegramChannel(pc.BotToken, chLog,
				channel.WithTelegramMentionOnly(pc.MentionOnly)))
		case domain.PlatformDiscord:
			channels = append(channels, channel.NewDiscordChannel(pc.BotToken, chLog,
				channel.WithDiscordMentionOnly(pc.MentionOnly)))
		case domain.PlatformSlack:
			channels = append(channels, channel.NewSlackChannel(pc.BotToken, pc.AppToken, chLog,
				channel.WithSlackMentionOnly(pc.MentionOnly)))
		case domain.PlatformWhatsApp:
			addr := pc.WebhookAddr
			if addr == "" {
				addr = ":3335"
			}
			channels = append(channels, channel.NewWhatsAppChannel(pc.BotToken, pc.PhoneNumberID,
				pc.VerifyToken, pc.AppSecret, addr, chLog))
		default:
			return nil, fmt.Errorf("unsupported platform %q", pc.Name)
		}
	}
	return channels, nil
}
