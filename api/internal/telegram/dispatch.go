package telegram

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"rmbg-bot/api/internal/workerpool"
)

// Dispatcher feeds updates to the router on a worker pool. A backoff sleep
// inside one handler holds only its own worker.
type Dispatcher struct {
	router *Router
	pool   *workerpool.Pool
}

// NewDispatcher starts workers goroutines. onError is the error boundary for
// handler errors and panics; nil logs them.
func NewDispatcher(ctx context.Context, r *Router, workers int, onError func(error)) *Dispatcher {
	if onError == nil {
		onError = LogError
	}
	return &Dispatcher{
		router: r,
		pool:   workerpool.New(ctx, workers, workers*4, onError),
	}
}

// Dispatch queues upd, blocking while all workers are busy and the queue is full.
func (d *Dispatcher) Dispatch(ctx context.Context, upd tgbotapi.Update) error {
	return d.pool.Submit(ctx, func(ctx context.Context) error {
		return d.router.HandleUpdate(ctx, upd)
	})
}

// Stop waits for queued updates to finish.
func (d *Dispatcher) Stop() { d.pool.Stop() }

// LogError is the default error boundary.
func LogError(err error) {
	var pe *workerpool.PanicError
	if errors.As(err, &pe) {
		log.Error().Interface("panic", pe.Value).Bytes("stack", pe.Stack).Msg("update handler panicked")
		return
	}
	log.Error().Err(err).Msg("update handler failed")
}
