package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrPositionNotFound   = errors.New("position not found")
	ErrLegIndexOutOfRange = errors.New("leg index out of range")
	ErrInvalidTransition  = errors.New("invalid position state transition")
	ErrAlertNotFound      = errors.New("alert not found")
	ErrClientNotFound     = errors.New("client not connected")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrContextDone        = errors.New("context cancelled")
)
