// Package speaker provides the audio sinks the playback coordinator plays
// into and tracks which channels currently have one connected.
package speaker

import (
	"errors"
	"log/slog"
)

var (
	// ErrNotConnected is returned when a channel has no speaker attached.
	ErrNotConnected = errors.New("speaker not connected")
	// ErrAlreadyConnected is returned by Join for a channel that already has a speaker.
	ErrAlreadyConnected = errors.New("speaker already connected")
	// ErrStopped is passed to completion callbacks when playback was aborted.
	ErrStopped = errors.New("playback stopped")
	// ErrBusy is returned by Play while a previous resource is still playing.
	ErrBusy = errors.New("speaker busy")
)

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
