package player

import (
	"context"
	"time"
)

// Device is the single underlying audio output the engine commands. The
// engine is its sole owner and mutator.
type Device interface {
	// Load points the device at a new media URL without starting playback.
	Load(ctx context.Context, url string) error
	// Play starts playback of the loaded media. An error means the device
	// refused to start (for example an output policy rejection).
	Play() error
	Pause() error
	Resume() error
	Seek(position time.Duration) error
	SetVolume(volume float64) error
	Position() time.Duration
	Duration() time.Duration
	OnFinished(callback func())
	OnPosition(callback func(time.Duration))
	Close() error
}

// URLProvider resolves a playable URL for a track that does not already
// carry one. It is injected once at construction so the engine stays
// testable with a stub instead of depending on the backend-calling
// resolver machinery.
type URLProvider interface {
	PlaybackURL(ctx context.Context, trackID int64) (string, error)
}

// URLProviderFunc adapts a function to the URLProvider interface.
type URLProviderFunc func(ctx context.Context, trackID int64) (string, error)

func (f URLProviderFunc) PlaybackURL(ctx context.Context, trackID int64) (string, error) {
	return f(ctx, trackID)
}
