// Package scrub removes secrets from error messages before they are logged
// or returned. net/http puts the full request URL into transport errors, and
// Telegram file URLs embed the bot token.
package scrub

import "strings"

// Error replaces every non-empty secret in err's message with [REDACTED].
// The original error stays reachable through Unwrap.
func Error(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	out := String(msg, secrets...)
	if out == msg {
		return err
	}
	return &scrubbedError{msg: out, err: err}
}

func String(s string, secrets ...string) string {
	for _, sec := range secrets {
		if sec != "" {
			s = strings.ReplaceAll(s, sec, "[REDACTED]")
		}
	}
	return s
}

type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }
