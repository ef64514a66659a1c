package audio

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"

	"github.com/cadenza-player/cadenza/internal/config"
)

var speakerInitialized = false
var speakerMutex sync.Mutex

// Speaker drives the process-wide audio output through beep. It implements
// the player engine's Device interface.
type Speaker struct {
	mu sync.Mutex

	sampleRate beep.SampleRate
	httpClient *http.Client
	userAgent  string
	debug      bool

	streamer   beep.StreamSeekCloser
	format     beep.Format
	ctrl       *beep.Ctrl
	volume     *effects.Volume
	baseVolume float64
	duration   time.Duration
	playing    bool
	paused     bool
	closed     bool

	finishedCallback func()
	positionCallback func(time.Duration)

	ticker *time.Ticker
	done   chan struct{}
}

func NewSpeaker(cfg *config.Config) (*Speaker, error) {
	s := &Speaker{
		sampleRate: beep.SampleRate(cfg.Audio.SampleRate),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  cfg.API.UserAgent,
		baseVolume: cfg.Audio.DefaultVolume,
		debug:      cfg.Debug,
		done:       make(chan struct{}),
	}

	if err := s.initializeSpeaker(cfg.Audio.BufferSize); err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}

	s.ticker = time.NewTicker(100 * time.Millisecond)
	go s.positionUpdater()

	if s.debug {
		log.Printf("[AUDIO] Speaker device ready, sample rate: %d", s.sampleRate)
	}

	return s, nil
}

func (s *Speaker) initializeSpeaker(bufferSize int) error {
	speakerMutex.Lock()
	defer speakerMutex.Unlock()

	if speakerInitialized {
		return nil
	}

	if bufferSize <= 0 {
		bufferSize = s.sampleRate.N(time.Second / 10)
	}

	if err := speaker.Init(s.sampleRate, bufferSize); err != nil {
		return fmt.Errorf("speaker initialization failed: %w", err)
	}

	speakerInitialized = true
	return nil
}

// Load fetches and decodes the media at url, replacing whatever was loaded
// before. Playback does not start until Play is called.
func (s *Speaker) Load(ctx context.Context, url string) error {
	reader, err := s.streamFromURL(ctx, url)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	streamer, format, err := mp3.Decode(reader)
	if err != nil {
		if closeErr := reader.Close(); closeErr != nil && s.debug {
			log.Printf("[AUDIO] Error closing stream after decode failure: %v", closeErr)
		}
		return fmt.Errorf("decode stream: %w", err)
	}

	s.mu.Lock()
	s.stopInternal()

	s.streamer = streamer
	s.format = format
	s.duration = format.SampleRate.D(streamer.Len())

	resampled := beep.Resample(4, format.SampleRate, s.sampleRate, streamer)
	s.ctrl = &beep.Ctrl{Streamer: resampled, Paused: false}
	s.volume = &effects.Volume{
		Streamer: s.ctrl,
		Base:     2,
		Volume:   (s.baseVolume - 1) * 5,
		Silent:   s.baseVolume == 0,
	}
	s.mu.Unlock()

	if s.debug {
		log.Printf("[AUDIO] Loaded stream - Sample Rate: %d, Duration: %v",
			format.SampleRate, s.duration)
	}

	return nil
}

func (s *Speaker) streamFromURL(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "audio/mpeg, audio/*")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if closeErr := resp.Body.Close(); closeErr != nil && s.debug {
			log.Printf("[AUDIO] Error closing response body: %v", closeErr)
		}
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	return resp.Body, nil
}

// Play starts the loaded stream from its current position.
func (s *Speaker) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.volume == nil {
		return fmt.Errorf("no stream loaded")
	}

	speaker.Clear()

	sequence := beep.Seq(s.volume, beep.Callback(func() {
		// Runs on the speaker goroutine; hand off so callbacks can
		// command the speaker again without self-deadlock.
		go s.handleFinished()
	}))

	speaker.Play(sequence)
	s.playing = true
	s.paused = false

	return nil
}

func (s *Speaker) handleFinished() {
	s.mu.Lock()
	s.playing = false
	s.paused = false
	callback := s.finishedCallback
	s.mu.Unlock()

	if callback != nil {
		callback()
	}
}

func (s *Speaker) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctrl != nil && s.playing && !s.paused {
		speaker.Lock()
		s.ctrl.Paused = true
		speaker.Unlock()
		s.paused = true
	}
	return nil
}

func (s *Speaker) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctrl == nil {
		return fmt.Errorf("no stream loaded")
	}

	if s.playing && s.paused {
		speaker.Lock()
		s.ctrl.Paused = false
		speaker.Unlock()
		s.paused = false
	}
	return nil
}

func (s *Speaker) Seek(position time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streamer == nil {
		return nil
	}

	if position < 0 {
		position = 0
	}

	pos := s.format.SampleRate.N(position)
	if pos >= s.streamer.Len() {
		pos = s.streamer.Len() - 1
	}
	if pos < 0 {
		pos = 0
	}

	speaker.Lock()
	err := s.streamer.Seek(pos)
	speaker.Unlock()

	if err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	return nil
}

func (s *Speaker) SetVolume(volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.baseVolume = volume
	if s.volume != nil {
		speaker.Lock()
		s.volume.Volume = (volume - 1) * 5
		s.volume.Silent = volume == 0
		speaker.Unlock()
	}
	return nil
}

func (s *Speaker) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streamer == nil {
		return 0
	}
	return s.format.SampleRate.D(s.streamer.Position())
}

func (s *Speaker) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Speaker) OnFinished(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedCallback = callback
}

func (s *Speaker) OnPosition(callback func(time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positionCallback = callback
}

func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopInternal()
	s.mu.Unlock()

	close(s.done)
	if s.ticker != nil {
		s.ticker.Stop()
	}

	return nil
}

// stopInternal tears playback state down. Callers hold s.mu.
func (s *Speaker) stopInternal() {
	if s.playing || s.paused {
		speaker.Clear()
	}

	if s.streamer != nil {
		if closeErr := s.streamer.Close(); closeErr != nil && s.debug {
			log.Printf("[AUDIO] Error closing streamer: %v", closeErr)
		}
		s.streamer = nil
	}

	s.ctrl = nil
	s.volume = nil
	s.duration = 0
	s.playing = false
	s.paused = false
}

func (s *Speaker) positionUpdater() {
	for {
		select {
		case <-s.ticker.C:
			s.updatePosition()
		case <-s.done:
			return
		}
	}
}

func (s *Speaker) updatePosition() {
	s.mu.Lock()
	if s.streamer == nil || !s.playing || s.paused {
		s.mu.Unlock()
		return
	}

	position := s.format.SampleRate.D(s.streamer.Position())
	callback := s.positionCallback
	s.mu.Unlock()

	if callback != nil {
		callback(position)
	}
}
