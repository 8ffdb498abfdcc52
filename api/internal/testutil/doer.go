package testutil

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
)

// ErrTransport is the default error returned by a failing Step.
var ErrTransport = errors.New("connection refused")

// Step is one scripted outcome of SeqDoer.Do: either a response or an error.
type Step struct {
	Status int
	Body   []byte
	Err    error
}

// Fail returns a transport failure step.
func Fail() Step { return Step{Err: ErrTransport} }

// Reply returns a step answering with status and body.
func Reply(status int, body []byte) Step { return Step{Status: status, Body: body} }

// SeqDoer replays Steps in order. Once exhausted it keeps failing at the
// transport level. Every request is recorded with its body read out.
type SeqDoer struct {
	mu       sync.Mutex
	steps    []Step
	requests []Recorded
}

type Recorded struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

func NewSeqDoer(steps ...Step) *SeqDoer {
	return &SeqDoer{steps: steps}
}

func (d *SeqDoer) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, Recorded{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})

	idx := len(d.requests) - 1
	if idx >= len(d.steps) {
		return nil, ErrTransport
	}
	s := d.steps[idx]
	if s.Err != nil {
		return nil, s.Err
	}
	return &http.Response{
		StatusCode: s.Status,
		Status:     http.StatusText(s.Status),
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(s.Body)),
		Request:    req,
	}, nil
}

// Attempts returns how many times Do was called.
func (d *SeqDoer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *SeqDoer) Requests() []Recorded {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Recorded{}, d.requests...)
}
