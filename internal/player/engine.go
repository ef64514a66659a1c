package player

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/cadenza-player/cadenza/internal/config"
	"github.com/cadenza-player/cadenza/internal/search"
	"github.com/cadenza-player/cadenza/pkg/types"
)

// Engine is the single source of truth for "what is playing right now" and
// the only component permitted to command the audio device. All transport
// and queue operations go through it.
type Engine struct {
	mu     sync.Mutex
	device Device
	urls   URLProvider
	bus    *eventBus
	debug  bool
	closed bool

	queue        []*types.Track
	currentIndex int
	isPlaying    bool
	currentTime  time.Duration
	duration     time.Duration
	volume       float64
	shuffled     bool
	repeated     bool

	// generation invalidates in-flight URL resolutions: a resolution that
	// completes after a newer transport command is discarded instead of
	// clobbering the device source.
	generation uint64
}

// State is a read-only snapshot of the engine.
type State struct {
	Queue        []*types.Track
	CurrentIndex int
	CurrentTrack *types.Track
	IsPlaying    bool
	CurrentTime  time.Duration
	Duration     time.Duration
	Volume       float64
	Shuffled     bool
	Repeated     bool
}

func NewEngine(cfg *config.Config, device Device, urls URLProvider) *Engine {
	e := &Engine{
		device:       device,
		urls:         urls,
		bus:          newEventBus(),
		debug:        cfg.Debug,
		currentIndex: -1,
		volume:       clampVolume(cfg.Audio.DefaultVolume),
	}

	device.OnFinished(e.handleTrackEnd)
	device.OnPosition(e.handlePosition)

	return e
}

func (e *Engine) debugLog(format string, args ...interface{}) {
	if !e.debug {
		return
	}
	log.Printf("[PLAYER] "+format, args...)
}

// Subscribe registers a handler for one of the Event* types.
func (e *Engine) Subscribe(eventType string, handler EventHandler) {
	e.bus.Subscribe(eventType, handler)
}

// Play starts playback of track. When queue is non-nil it wholly replaces
// the current queue and the index moves to track's position in it (0 when
// not found). Nothing is committed until a playable URL resolves: an
// unresolvable track aborts the operation with prior state intact.
func (e *Engine) Play(ctx context.Context, track *types.Track, queue []*types.Track) error {
	if track == nil {
		return fmt.Errorf("track cannot be nil")
	}

	e.mu.Lock()
	gen := e.nextGeneration()
	volume := e.volume

	newQueue := e.queue
	newIndex := e.currentIndex
	if queue != nil {
		newQueue = make([]*types.Track, len(queue))
		copy(newQueue, queue)
		if newIndex = indexOfTrack(newQueue, track.ID); newIndex == -1 {
			newIndex = 0
		}
		if len(newQueue) == 0 {
			newQueue = []*types.Track{track}
		}
	} else if idx := indexOfTrack(newQueue, track.ID); idx >= 0 {
		newIndex = idx
	} else {
		newQueue = append(append([]*types.Track{}, newQueue...), track)
		newIndex = len(newQueue) - 1
	}
	e.mu.Unlock()

	url, err := e.resolveURL(ctx, track)
	if err != nil {
		e.debugLog("Cannot play %q: %v", track.Title, err)
		e.bus.Publish(EventPlaybackError, PlaybackError{Track: track, Reason: err.Error()})
		return fmt.Errorf("play %q: %w", track.Title, err)
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.debugLog("Discarding stale play of %q", track.Title)
		return nil
	}
	e.queue = newQueue
	e.currentIndex = newIndex
	e.mu.Unlock()

	return e.startPlayback(ctx, gen, track, url, volume)
}

// Pause stops the device if currently playing. No-op when already paused.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if !e.isPlaying {
		e.mu.Unlock()
		return nil
	}
	e.isPlaying = false
	e.mu.Unlock()

	if err := e.device.Pause(); err != nil {
		e.debugLog("Device pause failed: %v", err)
	}

	e.publishState()
	return nil
}

// Resume restarts the device from the current position. isPlaying flips
// only after the device confirms.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.isPlaying {
		e.mu.Unlock()
		return nil
	}
	hasTrack := e.currentTrackLocked() != nil
	e.mu.Unlock()

	if !hasTrack {
		return nil
	}

	if err := e.device.Resume(); err != nil {
		e.bus.Publish(EventPlaybackError, PlaybackError{Reason: err.Error()})
		return fmt.Errorf("resume: %w", err)
	}

	e.mu.Lock()
	e.isPlaying = true
	e.mu.Unlock()

	e.publishState()
	return nil
}

func (e *Engine) TogglePlayPause() error {
	e.mu.Lock()
	playing := e.isPlaying
	e.mu.Unlock()

	if playing {
		return e.Pause()
	}
	return e.Resume()
}

// Next advances to the following queue entry. Overrunning the end wraps to
// 0 when repeat is on, otherwise holds at the last index without touching
// the playing track.
func (e *Engine) Next(ctx context.Context) error {
	return e.step(ctx, 1)
}

// Previous is symmetric to Next, wrapping to the last index on underflow
// when repeat is on and holding at 0 otherwise.
func (e *Engine) Previous(ctx context.Context) error {
	return e.step(ctx, -1)
}

func (e *Engine) step(ctx context.Context, delta int) error {
	e.mu.Lock()
	if len(e.queue) == 0 || e.currentIndex < 0 || e.currentIndex >= len(e.queue) {
		e.mu.Unlock()
		return nil
	}

	// The shuffled flag does not reorder traversal; shuffle ordering is an
	// extension point, the flag alone is stored state.
	next := e.currentIndex + delta
	if next >= len(e.queue) {
		if e.repeated {
			next = 0
		} else {
			next = len(e.queue) - 1
		}
	}
	if next < 0 {
		if e.repeated {
			next = len(e.queue) - 1
		} else {
			next = 0
		}
	}

	if next == e.currentIndex {
		e.mu.Unlock()
		return nil
	}

	track := e.queue[next]
	gen := e.nextGeneration()
	volume := e.volume
	e.mu.Unlock()

	url, err := e.resolveURL(ctx, track)
	if err != nil {
		// Playback simply does not advance; current track state stays.
		log.Printf("[PLAYER] cannot advance to %q: %v", track.Title, err)
		e.bus.Publish(EventPlaybackError, PlaybackError{Track: track, Reason: err.Error()})
		return nil
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.debugLog("Discarding stale advance to %q", track.Title)
		return nil
	}
	e.currentIndex = next
	e.mu.Unlock()

	return e.startPlayback(ctx, gen, track, url, volume)
}

// startPlayback points the device at url, reapplies the volume and starts
// it. The device load is itself a suspension point (a network fetch), so the
// generation is re-checked around it: a command overtaken by a newer one
// aborts silently instead of repointing or starting the device. isPlaying
// becomes true only after the device confirms; a device rejection forces it
// false instead of leaving stale state.
func (e *Engine) startPlayback(ctx context.Context, gen uint64, track *types.Track, url string, volume float64) error {
	if e.staleCommand(gen) {
		e.debugLog("Discarding stale start of %q", track.Title)
		return nil
	}

	if err := e.device.Load(ctx, url); err != nil {
		e.markStopped(gen)
		e.bus.Publish(EventPlaybackError, PlaybackError{Track: track, Reason: err.Error()})
		return fmt.Errorf("load %q: %w", track.Title, err)
	}

	if e.staleCommand(gen) {
		e.debugLog("Discarding stale start of %q after load", track.Title)
		return nil
	}

	if err := e.device.SetVolume(volume); err != nil {
		e.debugLog("Device volume apply failed: %v", err)
	}

	if err := e.device.Play(); err != nil {
		e.markStopped(gen)
		e.bus.Publish(EventPlaybackError, PlaybackError{Track: track, Reason: err.Error()})
		return fmt.Errorf("start %q: %w", track.Title, err)
	}

	e.mu.Lock()
	if gen == e.generation {
		e.isPlaying = true
		e.currentTime = 0
		e.duration = e.device.Duration()
	}
	e.mu.Unlock()

	e.debugLog("Now playing %q", track.Title)
	e.bus.Publish(EventTrackChanged, track)
	e.publishState()
	return nil
}

func (e *Engine) markStopped(gen uint64) {
	e.mu.Lock()
	if gen == e.generation {
		e.isPlaying = false
	}
	e.mu.Unlock()
	e.publishState()
}

// Seek forwards a position in seconds to the device. The engine does not
// clamp, that is the device's job, but it refuses NaN and infinite values
// outright.
func (e *Engine) Seek(seconds float64) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("invalid seek position")
	}
	position := time.Duration(seconds * float64(time.Second))

	if err := e.device.Seek(position); err != nil {
		return fmt.Errorf("seek: %w", err)
	}

	e.mu.Lock()
	e.currentTime = position
	e.mu.Unlock()

	e.publishState()
	return nil
}

// SetVolume updates engine state and the device together, clamped to [0,1].
func (e *Engine) SetVolume(volume float64) error {
	volume = clampVolume(volume)

	e.mu.Lock()
	e.volume = volume
	e.mu.Unlock()

	if err := e.device.SetVolume(volume); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}

	e.publishState()
	return nil
}

func (e *Engine) ToggleShuffle() {
	e.mu.Lock()
	e.shuffled = !e.shuffled
	e.mu.Unlock()
	e.publishState()
}

func (e *Engine) ToggleRepeat() {
	e.mu.Lock()
	e.repeated = !e.repeated
	e.mu.Unlock()
	e.publishState()
}

// AddToQueue appends track to the queue without affecting playback.
func (e *Engine) AddToQueue(track *types.Track) {
	if track == nil {
		return
	}

	e.mu.Lock()
	e.queue = append(e.queue, track)
	if e.currentIndex < 0 {
		e.currentIndex = 0
	}
	e.mu.Unlock()

	e.publishState()
}

// RemoveFromQueue deletes the entry at index. Out-of-range indexes are
// ignored. The current index shifts to keep pointing at a valid entry.
func (e *Engine) RemoveFromQueue(index int) {
	e.mu.Lock()
	if index < 0 || index >= len(e.queue) {
		e.mu.Unlock()
		return
	}

	e.queue = append(e.queue[:index], e.queue[index+1:]...)

	switch {
	case len(e.queue) == 0:
		e.currentIndex = -1
	case index < e.currentIndex:
		e.currentIndex--
	case e.currentIndex >= len(e.queue):
		e.currentIndex = len(e.queue) - 1
	}
	e.mu.Unlock()

	e.publishState()
}

// ClearQueue empties the queue and resets the index. The currently playing
// audio is left alone: queue and "now playing" are decoupled once a track
// has started.
func (e *Engine) ClearQueue() {
	e.mu.Lock()
	e.queue = nil
	e.currentIndex = 0
	e.mu.Unlock()

	e.publishState()
}

// FindInQueue filters the queue by a fuzzy title/artist/album match.
func (e *Engine) FindInQueue(query string) []*types.Track {
	e.mu.Lock()
	queue := make([]*types.Track, len(e.queue))
	copy(queue, e.queue)
	e.mu.Unlock()

	return search.FilterTracks(queue, query)
}

// State returns a consistent snapshot of the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	queue := make([]*types.Track, len(e.queue))
	copy(queue, e.queue)

	return State{
		Queue:        queue,
		CurrentIndex: e.currentIndex,
		CurrentTrack: e.currentTrackLocked(),
		IsPlaying:    e.isPlaying,
		CurrentTime:  e.currentTime,
		Duration:     e.duration,
		Volume:       e.volume,
		Shuffled:     e.shuffled,
		Repeated:     e.repeated,
	}
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	return e.device.Close()
}

// handleTrackEnd fires on the device's "ended" event. With repeat on the
// same track restarts from position 0; otherwise this is Next().
func (e *Engine) handleTrackEnd() {
	e.mu.Lock()
	repeated := e.repeated
	track := e.currentTrackLocked()
	e.isPlaying = false
	e.mu.Unlock()

	e.publishState()

	if track == nil {
		return
	}

	if repeated {
		if err := e.restartCurrent(); err != nil {
			e.debugLog("Restart of %q failed: %v", track.Title, err)
		}
		return
	}

	if err := e.Next(context.Background()); err != nil {
		e.debugLog("Auto-advance failed: %v", err)
	}
}

func (e *Engine) restartCurrent() error {
	if err := e.device.Seek(0); err != nil {
		return err
	}
	if err := e.device.Play(); err != nil {
		e.bus.Publish(EventPlaybackError, PlaybackError{Reason: err.Error()})
		return err
	}

	e.mu.Lock()
	e.isPlaying = true
	e.currentTime = 0
	e.mu.Unlock()

	e.publishState()
	return nil
}

func (e *Engine) handlePosition(position time.Duration) {
	e.mu.Lock()
	e.currentTime = position
	e.mu.Unlock()

	e.bus.Publish(EventPosition, position)
}

// resolveURL finds a playable URL for track: the embedded URL wins, then
// the injected provider. An empty result from every source is a visible
// failure, never a silent no-op.
func (e *Engine) resolveURL(ctx context.Context, track *types.Track) (string, error) {
	if track.Playable() {
		return track.URL, nil
	}

	if e.urls == nil {
		return "", fmt.Errorf("no playable URL")
	}

	url, err := e.urls.PlaybackURL(ctx, track.ID)
	if err != nil {
		return "", fmt.Errorf("resolve playback URL: %w", err)
	}
	if url == "" {
		return "", fmt.Errorf("no playable URL")
	}
	return url, nil
}

func (e *Engine) publishState() {
	e.bus.Publish(EventStateChanged, e.State())
}

// nextGeneration must be called with e.mu held.
func (e *Engine) nextGeneration() uint64 {
	e.generation++
	return e.generation
}

// staleCommand reports whether a newer transport command has superseded gen.
func (e *Engine) staleCommand(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen != e.generation
}

func (e *Engine) currentTrackLocked() *types.Track {
	if e.currentIndex < 0 || e.currentIndex >= len(e.queue) {
		return nil
	}
	return e.queue[e.currentIndex]
}

func indexOfTrack(queue []*types.Track, id int64) int {
	for i, t := range queue {
		if t != nil && t.ID == id {
			return i
		}
	}
	return -1
}

func clampVolume(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
