package telegram

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// UpdateSource is the long-polling half of *tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

type PollConfig struct {
	Timeout   int // long polling timeout, seconds
	BaseDelay time.Duration
	MaxDelay  time.Duration
	IdleDelay time.Duration
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		Timeout:   30,
		BaseDelay: time.Second,
		MaxDelay:  15 * time.Second,
		IdleDelay: 200 * time.Millisecond,
	}
}

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return time.Duration(tgErr.RetryAfter) * time.Second
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return time.Second
}

// RunPolling long-polls src until ctx is done, handing every update to
// handle in order. getUpdates failures are retried forever with a delay
// clamped to [BaseDelay, MaxDelay].
func RunPolling(ctx context.Context, src UpdateSource, cfg PollConfig, handle func(tgbotapi.Update)) {
	offset := 0
	for {
		if ctx.Err() != nil {
			log.Info().Msg("polling: context cancelled")
			return
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = cfg.Timeout

		updates, err := src.GetUpdates(u)
		if err != nil {
			d := retryDelayFromError(err)
			if d < cfg.BaseDelay {
				d = cfg.BaseDelay
			}
			if d > cfg.MaxDelay {
				d = cfg.MaxDelay
			}
			log.Warn().Err(err).Dur("retry_in", d).Msg("polling error")
			sleep(ctx, d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}

		if len(updates) == 0 {
			sleep(ctx, cfg.IdleDelay)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
