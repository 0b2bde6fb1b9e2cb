package transport

import "errors"

var (
	ErrUnknownPeer     = errors.New("no route to peer")
	ErrTransportClosed = errors.New("transport is closed")
	ErrNoHandler       = errors.New("no handler for message type")
	ErrFrameCorrupt    = errors.New("frame corrupt or truncated")
	ErrAlreadyStarted  = errors.New("transport already started")
)
