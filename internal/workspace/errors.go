package workspace

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrEmptyMessage      = errors.New("message is empty")
	ErrNotReady          = errors.New("no dataset loaded")
	ErrTurnPending       = errors.New("a reply is still pending")
	ErrStaleReply        = errors.New("reply belongs to a reset conversation")
)
