package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

const rootBody = "telegram background removal bot"

// Pinger reports whether a dependency is reachable. The journal satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	// Secret guards POST /webhook/:secret. Empty disables the route.
	Secret string
	// Dispatch receives decoded webhook updates.
	Dispatch func(ctx context.Context, upd tgbotapi.Update) error
	// Health is optional; when set /healthz fails while it does.
	Health Pinger
}

// NewRouter builds the gin engine for health checks and the webhook.
func NewRouter(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, rootBody)
	})
	r.GET("/healthz", func(c *gin.Context) {
		if opts.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Health.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.Secret != "" && opts.Dispatch != nil {
		r.POST("/webhook/:secret", func(c *gin.Context) {
			if c.Param("secret") != opts.Secret {
				c.Status(http.StatusNotFound)
				return
			}
			var upd tgbotapi.Update
			if err := c.ShouldBindJSON(&upd); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad update"})
				return
			}
			// Telegram only needs the ack; the update runs on the worker pool.
			if err := opts.Dispatch(context.WithoutCancel(c.Request.Context()), upd); err != nil {
				log.Error().Err(err).Int("update_id", upd.UpdateID).Msg("webhook: dispatch failed")
				c.Status(http.StatusServiceUnavailable)
				return
			}
			c.Status(http.StatusOK)
		})
	}
	return r
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}

// Serve runs h on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

// ServeWhile serves h on addr for as long as run is running. If the server
// fails first, run's context is cancelled and the server error is returned.
func ServeWhile(ctx context.Context, addr string, h http.Handler, run func(ctx context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		err := Serve(ctx, addr, h)
		if err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("http server failed")
			cancel()
		}
		errc <- err
	}()

	run(ctx)
	cancel()
	return <-errc
}
