package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rmbg-bot/api/internal/config"
	"rmbg-bot/api/internal/httpserver"
	"rmbg-bot/api/internal/logging"
	"rmbg-bot/api/internal/maintenance"
	"rmbg-bot/api/internal/removebg"
	"rmbg-bot/api/internal/retry"
	"rmbg-bot/api/internal/scrub"
	"rmbg-bot/api/internal/store"
	"rmbg-bot/api/internal/telegram"
)

var (
	envFileFlag  string
	logLevelFlag string
	workersFlag  int
)

var rootCmd = &cobra.Command{
	Use:   "rmbg-bot",
	Short: "Telegram bot that removes photo backgrounds via remove.bg",
	Long: `rmbg-bot answers Telegram photos with the same photo, background removed.

Configuration comes from the environment (optionally seeded from a .env file):
  TELEGRAM_BOT_TOKEN (or tg_token)   bot token, required
  REMOVE_BG_API_KEY  (or rmbg_key)   remove.bg key, required
  WEBHOOK_URL                        public base URL; polling when empty
  DATABASE_URL                       Postgres DSN for the request journal, optional`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&envFileFlag, "env-file", ".env", "Path to a .env file (ignored when missing)")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	rootCmd.Flags().IntVar(&workersFlag, "workers", 0, "Concurrent photo handlers (overrides WORKERS)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(envFileFlag)
	if err != nil {
		return err
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	if workersFlag > 0 {
		cfg.Workers = workersFlag
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Postgres (optional) ---
	var journal *store.Journal
	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		journal = store.NewJournal(db)
		if err := journal.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		log.Info().Str("db", store.SafeDSNSummary(cfg.DatabaseURL)).Msg("journal enabled")
	}

	// --- Telegram bot ---
	tg, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", scrub.Error(err, cfg.TelegramBotToken))
	}
	log.Info().Str("bot", tg.Self.UserName).Msg("authorized")
	bot := telegram.NewScrubbedBot(tg, cfg.TelegramBotToken)

	// --- remove.bg ---
	rc := retry.New(
		retry.WithMaxRetries(cfg.MaxRetries),
		retry.WithBaseDelay(cfg.RetryBaseDelay),
		retry.WithSecrets(cfg.TelegramBotToken, cfg.RemoveBGAPIKey),
	)
	remover := removebg.New(cfg.RemoveBGAPIKey,
		removebg.WithEndpoint(cfg.RemoveBGURL),
		removebg.WithSize(cfg.RemoveBGSize),
		removebg.WithRetryClient(rc),
	)

	r := &telegram.Router{
		Bot:        bot,
		Remover:    remover,
		Fetcher:    rc,
		ScratchDir: cfg.ScratchDir,
	}
	if journal != nil {
		r.Journal = journal
	}

	dispatcher := telegram.NewDispatcher(ctx, r, cfg.Workers, nil)
	defer dispatcher.Stop()

	// --- Housekeeping ---
	mcfg := maintenance.Config{
		Schedule:   cfg.SweepSchedule,
		ScratchDir: cfg.ScratchDir,
		Retention:  cfg.JournalRetention,
	}
	if journal != nil {
		mcfg.Journal = journal
	}
	sched, err := maintenance.New(mcfg)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sched.Stop(sctx)
	}()

	addr := "0.0.0.0:" + cfg.Port
	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		return runWebhook(ctx, addr, bot, cfg.TelegramBotToken, dispatcher, webhookURL, health(journal))
	}
	return runPolling(ctx, addr, bot, dispatcher, health(journal))
}

// health keeps a nil journal from becoming a non-nil Pinger.
func health(j *store.Journal) httpserver.Pinger {
	if j == nil {
		return nil
	}
	return j
}

func runWebhook(ctx context.Context, addr string, bot *telegram.ScrubbedBot, token string, d *telegram.Dispatcher, baseURL string, hc httpserver.Pinger) error {
	path := telegram.WebhookPath(token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return fmt.Errorf("webhook url: %w", err)
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	log.Info().Str("addr", addr).Str("path", "/webhook/<secret>").Msg("webhook mode")

	h := httpserver.NewRouter(httpserver.Options{
		Secret:   telegram.WebhookSecret(token),
		Dispatch: d.Dispatch,
		Health:   hc,
	})
	return httpserver.Serve(ctx, addr, h)
}

func runPolling(ctx context.Context, addr string, bot *telegram.ScrubbedBot, d *telegram.Dispatcher, hc httpserver.Pinger) error {
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		log.Warn().Err(err).Msg("delete webhook failed")
	}

	log.Info().Msg("polling mode")
	h := httpserver.NewRouter(httpserver.Options{Health: hc})
	return httpserver.ServeWhile(ctx, addr, h, func(ctx context.Context) {
		telegram.RunPolling(ctx, bot, telegram.DefaultPollConfig(), func(upd tgbotapi.Update) {
			if err := d.Dispatch(ctx, upd); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Int("update_id", upd.UpdateID).Msg("dispatch failed")
			}
		})
	})
}
