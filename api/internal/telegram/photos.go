package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"rmbg-bot/api/internal/removebg"
	"rmbg-bot/api/internal/scratch"
	"rmbg-bot/api/internal/store"
)

// HandlePhoto runs one receive, remove, reply cycle for msg.
//
// Every failure ends with TextFailure sent to the chat. Remote status errors
// are handled here and return nil; anything else (download failure, retries
// exhausted, open breaker, send failure) is also returned so the dispatcher
// can log it. A message without a photo is ignored.
func (r *Router) HandlePhoto(ctx context.Context, msg *tgbotapi.Message) error {
	if msg == nil || msg.Chat == nil || len(msg.Photo) == 0 {
		return nil
	}
	cid := msg.Chat.ID
	reqID := uuid.NewString()
	logger := log.With().Str("request_id", reqID).Int64("chat_id", cid).Logger()

	start := time.Now()
	entry := store.Entry{RequestID: reqID, ChatID: cid, Outcome: store.OutcomeFailed}
	defer func() {
		entry.Duration = time.Since(start)
		r.record(ctx, entry)
		logger.Info().Str("outcome", string(entry.Outcome)).Dur("took", entry.Duration).Msg("photo handled")
	}()

	fail := func(outcome store.Outcome, e error) error {
		entry.Outcome = outcome
		r.send(cid, TextFailure)
		return e
	}

	ws, err := scratch.New(r.ScratchDir, reqID)
	if err != nil {
		return fail(store.OutcomeFailed, err)
	}
	defer func() {
		if cerr := ws.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("scratch cleanup failed")
		}
	}()

	ph := largestPhoto(msg.Photo)
	in := ws.InputPath(".jpg")
	if err := r.download(ctx, ph.FileID, in); err != nil {
		return fail(store.OutcomeDownloadFailed, fmt.Errorf("download photo: %w", err))
	}

	r.send(cid, TextReceived)

	result, err := r.Remover.Remove(ctx, in)
	if err != nil {
		var se *removebg.StatusError
		if errors.As(err, &se) {
			entry.StatusCode = se.Code
			logger.Warn().Int("status", se.Code).Str("title", se.Title).Msg("background removal rejected")
			_ = fail(store.OutcomeRemoteError, err)
			return nil
		}
		return fail(store.OutcomeUnreachable, fmt.Errorf("remove background: %w", err))
	}
	entry.StatusCode = http.StatusOK

	out, err := ws.WriteOutput(result)
	if err != nil {
		return fail(store.OutcomeFailed, err)
	}
	if _, err := r.Bot.Send(tgbotapi.NewPhoto(cid, tgbotapi.FilePath(out))); err != nil {
		return fail(store.OutcomeFailed, fmt.Errorf("send photo: %w", err))
	}
	entry.Outcome = store.OutcomeOK
	return nil
}

// largestPhoto picks the highest-resolution size. Telegram lists sizes in
// ascending order, so ties go to the later entry.
func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[len(sizes)-1]
	for _, s := range sizes {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best
}

func (r *Router) download(ctx context.Context, fileID, dst string) error {
	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("file url: %w", err)
	}
	resp, err := r.Fetcher.Get(ctx, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
