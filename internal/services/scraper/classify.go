package scraper

import (
	"context"
	"errors"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/docket/internal/models"
)

// maxErrorMessage bounds the error text stored on a job
const maxErrorMessage = 500

// KindError lets a source adapter classify its own failures
type KindError interface {
	error
	Kind() models.ErrorKind
}

// Classifier maps raw fetch failures onto the closed set of error kinds
// and decides which kinds may be retried.
type Classifier struct {
	// OtherRetryAttempts is how many attempts an "other" failure may have used and still be retried
	OtherRetryAttempts int
}

// NewClassifier creates a classifier. otherRetryAttempts of 1 retries "other" after the first attempt only.
func NewClassifier(otherRetryAttempts int) *Classifier {
	if otherRetryAttempts < 0 {
		otherRetryAttempts = 0
	}
	return &Classifier{OtherRetryAttempts: otherRetryAttempts}
}

// Classify is total: every non-nil error maps to exactly one kind
func (c *Classifier) Classify(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorKindOther
	}

	var kindErr KindError
	if errors.As(err, &kindErr) {
		switch kind := kindErr.Kind(); kind {
		case models.ErrorKindCaptcha, models.ErrorKindTimeout, models.ErrorKindOther:
			return kind
		}
	}

	if errors.Is(err, models.ErrCaptcha) {
		return models.ErrorKindCaptcha
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.ErrorKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrorKindTimeout
	}
	if errors.Is(err, models.ErrEmptyResponse) {
		return models.ErrorKindOther
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "captcha"):
		return models.ErrorKindCaptcha
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return models.ErrorKindTimeout
	}
	return models.ErrorKindOther
}

// Retryable reports whether a failure of kind after attempts attempts may be requeued
func (c *Classifier) Retryable(kind models.ErrorKind, attempts int) bool {
	switch kind {
	case models.ErrorKindCaptcha, models.ErrorKindTimeout:
		return true
	default:
		return attempts <= c.OtherRetryAttempts
	}
}

// Describe builds the stored job error for a failure
func (c *Classifier) Describe(err error) models.JobError {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return models.JobError{Kind: c.Classify(err), Message: truncateMessage(msg)}
}

// truncateMessage cuts msg to at most maxErrorMessage bytes on a rune boundary
func truncateMessage(msg string) string {
	if len(msg) <= maxErrorMessage {
		return msg
	}
	cut := maxErrorMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
