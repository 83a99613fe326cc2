package server

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidJoin    = errors.New("invalid join: room and user are required")
	ErrInvalidMessage = errors.New("invalid message")
	ErrUnknownKind    = fmt.Errorf("%w: unknown kind", ErrInvalidMessage)
	ErrServerClosed   = errors.New("chat server closed")
)
