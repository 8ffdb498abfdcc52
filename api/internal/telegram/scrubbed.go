package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rmbg-bot/api/internal/scrub"
)

// TokenBot is everything the bot process needs from *tgbotapi.BotAPI.
type TokenBot interface {
	BotAPI
	UpdateSource
}

// ScrubbedBot strips the bot token from every Bot API error. net/http puts
// the request URL, and with it /bot<token>/, into transport errors.
type ScrubbedBot struct {
	bot   TokenBot
	token string
}

func NewScrubbedBot(bot TokenBot, token string) *ScrubbedBot {
	return &ScrubbedBot{bot: bot, token: token}
}

func (b *ScrubbedBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m, err := b.bot.Send(c)
	return m, scrub.Error(err, b.token)
}

func (b *ScrubbedBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	r, err := b.bot.Request(c)
	return r, scrub.Error(err, b.token)
}

func (b *ScrubbedBot) GetFileDirectURL(fileID string) (string, error) {
	u, err := b.bot.GetFileDirectURL(fileID)
	return u, scrub.Error(err, b.token)
}

func (b *ScrubbedBot) GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	u, err := b.bot.GetUpdates(config)
	return u, scrub.Error(err, b.token)
}

var _ TokenBot = (*tgbotapi.BotAPI)(nil)
