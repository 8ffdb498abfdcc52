package telegram

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rmbg-bot/api/internal/store"
)

// BotAPI is the part of *tgbotapi.BotAPI the router uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Remover turns the image at path into a background-free image.
type Remover interface {
	Remove(ctx context.Context, path string) ([]byte, error)
}

// Fetcher downloads a URL. *retry.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string, header http.Header) (*http.Response, error)
}

// Journal records the outcome of each photo request.
type Journal interface {
	Record(ctx context.Context, e store.Entry) error
}

var _ BotAPI = (*tgbotapi.BotAPI)(nil)

// WebhookPath is the secret webhook path derived from the bot token.
func WebhookPath(token string) string {
	return "/webhook/" + WebhookSecret(token)
}

func WebhookSecret(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])[:16]
}
