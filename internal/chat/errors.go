package chat

import (
	"errors"
	"fmt"

	"github.com/quitline/carechat/internal/transport"
)

var (
	// ErrAuthRejected is returned when the server refuses the session token.
	// The user has to log in again.
	ErrAuthRejected = transport.ErrAuthRejected

	ErrHistoryFetchFailed   = errors.New("history fetch failed")
	ErrSendFailed           = errors.New("send failed")
	ErrDirectoryFetchFailed = errors.New("directory fetch failed")
	ErrSessionEnded         = errors.New("session ended")
	ErrInvalidSession       = errors.New("invalid session")

	// ErrSelectionChanged is returned by SelectConversationSync when another
	// conversation was selected before the history arrived.
	ErrSelectionChanged = errors.New("selection changed")

	// ErrEmptyMessage is wrapped in a SendError for blank bodies.
	ErrEmptyMessage = errors.New("message is empty")
)

// SendError reports a failed send. It carries the draft so the caller can
// offer it again; nothing was added to the conversation.
type SendError struct {
	CounterpartID string
	Body          string
	Err           error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.CounterpartID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSendFailed) match any SendError.
func (e *SendError) Is(target error) bool {
	return target == ErrSendFailed
}
