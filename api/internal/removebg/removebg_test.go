package removebg_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rmbg-bot/api/internal/removebg"
	"rmbg-bot/api/internal/retry"
	"rmbg-bot/api/internal/testutil"
)

func writeInput(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "input_photo.jpg")
	require.NoError(t, os.WriteFile(p, []byte("JPEGDATA"), 0o600))
	return p
}

func TestRemove_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "auto", r.FormValue("size"))

		f, _, err := r.FormFile("image_file")
		if assert.NoError(t, err) {
			data, _ := io.ReadAll(f)
			assert.Equal(t, "JPEGDATA", string(data))
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()

	rc := retry.New(retry.WithHTTPClient(srv.Client()), retry.WithLogger(zerolog.Nop()))
	c := removebg.New("secret", removebg.WithEndpoint(srv.URL), removebg.WithRetryClient(rc))

	out, err := c.Remove(context.Background(), writeInput(t))
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(out))
}

func TestRemove_CustomSize(t *testing.T) {
	doer := testutil.NewSeqDoer(testutil.Reply(200, []byte("x")))
	rc := retry.New(retry.WithDoer(doer), retry.WithSleeper(&testutil.FakeSleeper{}), retry.WithLogger(zerolog.Nop()))
	c := removebg.New("k", removebg.WithEndpoint("http://remote.test/rm"), removebg.WithSize("preview"), removebg.WithRetryClient(rc))

	_, err := c.Remove(context.Background(), writeInput(t))
	require.NoError(t, err)
	reqs := doer.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "http://remote.test/rm", reqs[0].URL)
	assert.Contains(t, string(reqs[0].Body), "preview")
}

func TestRemove_StatusErrorWithTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"title":"Could not identify foreground in image","code":"unknown_foreground"}]}`))
	}))
	defer srv.Close()

	rc := retry.New(retry.WithHTTPClient(srv.Client()), retry.WithLogger(zerolog.Nop()))
	c := removebg.New("k", removebg.WithEndpoint(srv.URL), removebg.WithRetryClient(rc))

	_, err := c.Remove(context.Background(), writeInput(t))
	var se *removebg.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "Could not identify foreground in image", se.Title)
	assert.Contains(t, se.Error(), "400")
}

func TestRemove_StatusErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rc := retry.New(retry.WithHTTPClient(srv.Client()), retry.WithLogger(zerolog.Nop()))
	c := removebg.New("k", removebg.WithEndpoint(srv.URL), removebg.WithRetryClient(rc))

	_, err := c.Remove(context.Background(), writeInput(t))
	var se *removebg.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.Code)
	assert.Empty(t, se.Title)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRemove_RetriesExhausted(t *testing.T) {
	doer := testutil.NewSeqDoer()
	sleeper := &testutil.FakeSleeper{}
	rc := retry.New(retry.WithDoer(doer), retry.WithSleeper(sleeper), retry.WithLogger(zerolog.Nop()))
	c := removebg.New("k", removebg.WithEndpoint("http://remote.test/"), removebg.WithRetryClient(rc))

	_, err := c.Remove(context.Background(), writeInput(t))
	require.ErrorIs(t, err, retry.ErrMaxRetries)
	assert.Equal(t, 5, doer.Attempts())
	assert.Equal(t, 15*time.Second, sleeper.TotalDuration())
}

func TestRemove_BreakerOpensOnTransportFailures(t *testing.T) {
	doer := testutil.NewSeqDoer()
	rc := retry.New(retry.WithDoer(doer), retry.WithSleeper(&testutil.FakeSleeper{}),
		retry.WithMaxRetries(1), retry.WithLogger(zerolog.Nop()))
	c := removebg.New("k", removebg.WithEndpoint("http://remote.test/"), removebg.WithRetryClient(rc),
		removebg.WithBreaker(gobreaker.Settings{
			Name:    "test",
			Timeout: time.Hour,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 2
			},
		}))

	in := writeInput(t)
	for i := 0; i < 2; i++ {
		_, err := c.Remove(context.Background(), in)
		require.ErrorIs(t, err, retry.ErrMaxRetries)
	}
	require.Equal(t, 2, doer.Attempts())

	_, err := c.Remove(context.Background(), in)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, doer.Attempts(), "open breaker short-circuits the upload")
}

func TestRemove_BreakerIgnoresStatusErrors(t *testing.T) {
	steps := make([]testutil.Step, 0, 5)
	for i := 0; i < 5; i++ {
		steps = append(steps, testutil.Reply(http.StatusPaymentRequired, nil))
	}
	doer := testutil.NewSeqDoer(steps...)
	rc := retry.New(retry.WithDoer(doer), retry.WithSleeper(&testutil.FakeSleeper{}), retry.WithLogger(zerolog.Nop()))
	c := removebg.New("k", removebg.WithEndpoint("http://remote.test/"), removebg.WithRetryClient(rc))

	in := writeInput(t)
	for i := 0; i < 5; i++ {
		_, err := c.Remove(context.Background(), in)
		var se *removebg.StatusError
		require.ErrorAs(t, err, &se)
		require.False(t, errors.Is(err, gobreaker.ErrOpenState))
	}
	assert.Equal(t, 5, doer.Attempts())
}

func TestRemove_ResultSizeLimit(t *testing.T) {
	const limit = 1024
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"at limit", limit, false},
		{"one byte over", limit + 1, true},
		{"far over", 4 * limit, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				_, _ = w.Write(make([]byte, tt.size))
			}))
			defer srv.Close()

			rc := retry.New(retry.WithHTTPClient(srv.Client()), retry.WithLogger(zerolog.Nop()))
			c := removebg.New("k", removebg.WithEndpoint(srv.URL), removebg.WithRetryClient(rc),
				removebg.WithMaxResultSize(limit))

			out, err := c.Remove(context.Background(), writeInput(t))
			if tt.wantErr {
				require.ErrorIs(t, err, removebg.ErrResultTooLarge)
				assert.Nil(t, out, "a truncated image is never returned")
				return
			}
			require.NoError(t, err)
			assert.Len(t, out, tt.size)
		})
	}
}

func TestRemove_DefaultResultSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, removebg.DefaultMaxResultSize+1))
	}))
	defer srv.Close()

	rc := retry.New(retry.WithHTTPClient(srv.Client()), retry.WithLogger(zerolog.Nop()))
	c := removebg.New("k", removebg.WithEndpoint(srv.URL), removebg.WithRetryClient(rc))

	_, err := c.Remove(context.Background(), writeInput(t))
	require.ErrorIs(t, err, removebg.ErrResultTooLarge)
}

func TestRemove_BreakerIgnoresCallerContext(t *testing.T) {
	doer := testutil.NewSeqDoer()
	rc := retry.New(retry.WithDoer(doer), retry.WithSleeper(&testutil.FakeSleeper{}),
		retry.WithMaxRetries(1), retry.WithLogger(zerolog.Nop()))
	c := removebg.New("k", removebg.WithEndpoint("http://remote.test/"), removebg.WithRetryClient(rc),
		removebg.WithBreaker(gobreaker.Settings{
			Name:    "test",
			Timeout: time.Hour,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 1
			},
		}))
	in := writeInput(t)

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := c.Remove(expired, in)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	cancelled, cancel2 := context.WithCancel(context.Background())
	cancel2()
	_, err = c.Remove(cancelled, in)
	require.ErrorIs(t, err, context.Canceled)

	_, err = c.Remove(context.Background(), in)
	require.ErrorIs(t, err, retry.ErrMaxRetries, "the breaker is still closed")

	_, err = c.Remove(context.Background(), in)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}
