package testutil

import (
	"errors"
	"os"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SentPhoto is a photo reply captured by FakeBot. Data is read at send time
// because the file usually lives in a workspace removed right after.
type SentPhoto struct {
	ChatID int64
	Path   string
	Data   []byte
}

// FakeBot records everything sent through it.
type FakeBot struct {
	mu     sync.Mutex
	texts  []tgbotapi.MessageConfig
	photos []SentPhoto

	// FileURL answers GetFileDirectURL; FileURLErr fails it.
	FileURL    string
	FileURLErr error
	// SendPhotoErr fails photo sends.
	SendPhotoErr error
}

func (b *FakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		b.texts = append(b.texts, v)
	case tgbotapi.PhotoConfig:
		if b.SendPhotoErr != nil {
			return tgbotapi.Message{}, b.SendPhotoErr
		}
		p := SentPhoto{ChatID: v.ChatID}
		if fp, ok := v.File.(tgbotapi.FilePath); ok {
			p.Path = string(fp)
			p.Data, _ = os.ReadFile(p.Path)
		}
		b.photos = append(b.photos, p)
	default:
		return tgbotapi.Message{}, errors.New("fake bot: unsupported chattable")
	}
	return tgbotapi.Message{MessageID: len(b.texts) + len(b.photos)}, nil
}

func (b *FakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *FakeBot) GetFileDirectURL(fileID string) (string, error) {
	if b.FileURLErr != nil {
		return "", b.FileURLErr
	}
	return b.FileURL + "/" + fileID, nil
}

// Texts returns the text of every message sent, in order.
func (b *FakeBot) Texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.texts))
	for _, m := range b.texts {
		out = append(out, m.Text)
	}
	return out
}

func (b *FakeBot) Photos() []SentPhoto {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SentPhoto{}, b.photos...)
}
