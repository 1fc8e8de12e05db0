package chathub

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"socialchat/backend/internal/storage"
)

// ErrNotFriends marks a private direct room whose members are no longer mutual friends.
var ErrNotFriends = errors.New("members are not mutual friends")

// ClientError is reported to the originating connection as an error envelope.
type ClientError struct {
	Code    int
	Message string
	cause   error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func (e *ClientError) Unwrap() error { return e.cause }

// ValidationError is a 422: the command payload is unusable.
func ValidationError(msg string) *ClientError {
	return &ClientError{Code: http.StatusUnprocessableEntity, Message: msg}
}

// NotFoundError is a 404: the referenced room does not exist.
func NotFoundError(msg string) *ClientError {
	return &ClientError{Code: http.StatusNotFound, Message: msg}
}

// AuthorizationError is a 403.
func AuthorizationError(msg string) *ClientError {
	return &ClientError{Code: http.StatusForbidden, Message: msg}
}

// RetrievalFailure is a 204: nothing to show, not fatal.
func RetrievalFailure(msg string) *ClientError {
	return &ClientError{Code: http.StatusNoContent, Message: msg}
}

// InternalError is a 500 for storage faults outside the client's control.
func InternalError(msg string) *ClientError {
	return &ClientError{Code: http.StatusInternalServerError, Message: msg}
}

func notFriendsError() *ClientError {
	return &ClientError{Code: http.StatusForbidden, Message: "You can only chat with friends.", cause: ErrNotFriends}
}

// AsClientError maps any error raised while handling a command to the envelope taxonomy.
func AsClientError(err error) *ClientError {
	var ce *ClientError
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, storage.ErrRoomNotFound):
		return NotFoundError("Invalid room.")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return InternalError("Request cancelled.")
	default:
		return InternalError("Something went wrong.")
	}
}
