package ai

import (
	"context"
	"errors"
	"fmt"
	"net"

	"excelanalyst/internal/models"
)

// Dataset is everything a new conversation is seeded with.
type Dataset struct {
	FileName string
	// Context is the bounded CSV rendering produced by sheet.FormatForModel.
	Context string
	// Table backs local tools; sessions must treat it as read-only.
	Table *models.ParsedTable
}

// Reply is one assistant turn.
type Reply struct {
	Text   string
	Images []models.Image
}

// Session is a live remote chat context. Send must not be called
// concurrently; the caller serializes turns.
type Session interface {
	Send(ctx context.Context, userText string) (*Reply, error)
	Close() error
}

// Initializer opens a new Session for an uploaded dataset.
type Initializer interface {
	Initialize(ctx context.Context, ds Dataset) (Session, error)
}

// InitError reports that a remote context could not be established.
type InitError struct {
	Provider string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize %s session: %v", e.Provider, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

type SendReason string

const (
	ReasonTransport SendReason = "transport"
	ReasonRemote    SendReason = "remote"
	ReasonStale     SendReason = "stale"
	ReasonTimeout   SendReason = "timeout"
)

var errSessionClosed = errors.New("session closed")

// SendError reports a failed turn. History on the remote side is unchanged.
type SendError struct {
	Reason SendReason
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message (%s): %v", e.Reason, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a SendError caused by an expired deadline.
func IsTimeout(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Reason == ReasonTimeout
}

// classifySendError maps a provider error onto a SendError.
func classifySendError(ctx context.Context, err error) *SendError {
	var se *SendError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &SendError{Reason: ReasonTimeout, Err: err}
	case errors.Is(err, context.Canceled):
		return &SendError{Reason: ReasonStale, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &SendError{Reason: ReasonTimeout, Err: err}
		}
		return &SendError{Reason: ReasonTransport, Err: err}
	}
	return &SendError{Reason: ReasonRemote, Err: err}
}
