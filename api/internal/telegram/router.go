package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"rmbg-bot/api/internal/store"
)

const (
	TextStart   = "Assalamu Alaikum! Send me a photo and I will remove its background. Jajakallah Khair for using this bot."
	TextHelp    = "Send me a photo and I will send it back without the background.\nCommands: /start, /help, /health"
	TextHealth  = "OK"
	TextUnknown = "Unknown command"

	TextReceived = "Photo received successfully. Removing background......."
	TextFailure  = "Error: Could not remove the photo background."
)

type Router struct {
	Bot     BotAPI
	Remover Remover
	Fetcher Fetcher
	Journal Journal // optional

	// ScratchDir is the root for per-request workspaces.
	ScratchDir string
}

// HandleUpdate routes one update. The returned error is meant for the
// dispatcher's error boundary; the user has already been answered.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) error {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}
	if msg.IsCommand() {
		r.HandleCommand(msg)
		return nil
	}
	if len(msg.Photo) > 0 {
		return r.HandlePhoto(ctx, msg)
	}
	return nil
}

func (r *Router) HandleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start":
		r.send(cid, TextStart)
	case "help":
		r.send(cid, TextHelp)
	case "health":
		r.send(cid, TextHealth)
	default:
		r.send(cid, TextUnknown)
	}
}

func (r *Router) send(chatID int64, text string) {
	if _, err := r.Bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("send message failed")
	}
}

func (r *Router) record(ctx context.Context, e store.Entry) {
	if r.Journal == nil {
		return
	}
	// written even when the request context is already done
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := r.Journal.Record(wctx, e); err != nil {
		log.Warn().Err(err).Str("request_id", e.RequestID).Msg("journal record failed")
	}
}
