package player

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cadenza-player/cadenza/internal/config"
	"github.com/cadenza-player/cadenza/pkg/types"
)

// stubDevice records every command the engine issues and lets tests inject
// failures and fire the device callbacks.
type stubDevice struct {
	mu         sync.Mutex
	calls      []string
	loadedURLs []string
	volume     float64
	playErr    error
	loadErr    error

	onFinished func()
	onPosition func(time.Duration)
}

func (d *stubDevice) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *stubDevice) Load(ctx context.Context, url string) error {
	d.record("load")
	if d.loadErr != nil {
		return d.loadErr
	}
	d.mu.Lock()
	d.loadedURLs = append(d.loadedURLs, url)
	d.mu.Unlock()
	return nil
}

func (d *stubDevice) Play() error {
	d.record("play")
	return d.playErr
}

func (d *stubDevice) Pause() error  { d.record("pause"); return nil }
func (d *stubDevice) Resume() error { d.record("resume"); return nil }

func (d *stubDevice) Seek(position time.Duration) error {
	d.record("seek")
	return nil
}

func (d *stubDevice) SetVolume(volume float64) error {
	d.record("volume")
	d.mu.Lock()
	d.volume = volume
	d.mu.Unlock()
	return nil
}

func (d *stubDevice) Position() time.Duration { return 0 }
func (d *stubDevice) Duration() time.Duration { return 3 * time.Minute }

func (d *stubDevice) OnFinished(callback func())              { d.onFinished = callback }
func (d *stubDevice) OnPosition(callback func(time.Duration)) { d.onPosition = callback }

func (d *stubDevice) Close() error { d.record("close"); return nil }

func (d *stubDevice) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.calls...)
}

func (d *stubDevice) lastLoaded() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.loadedURLs) == 0 {
		return ""
	}
	return d.loadedURLs[len(d.loadedURLs)-1]
}

func testTrack(id int64, title string) *types.Track {
	return &types.Track{ID: id, Title: title, URL: "https://cdn.example.com/" + title + ".mp3"}
}

func testQueue(n int) []*types.Track {
	queue := make([]*types.Track, n)
	for i := range queue {
		queue[i] = testTrack(int64(i+1), "track-"+string(rune('a'+i)))
	}
	return queue
}

func newTestEngine(device Device, urls URLProvider) *Engine {
	cfg := &config.Config{}
	cfg.Audio.DefaultVolume = 0.8
	return NewEngine(cfg, device, urls)
}

func TestPlay(t *testing.T) {
	t.Run("Replaces Queue And Positions Index", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(3)

		if err := engine.Play(context.Background(), queue[1], queue); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		state := engine.State()
		if len(state.Queue) != 3 || state.CurrentIndex != 1 {
			t.Errorf("expected index 1 in queue of 3, got index %d in queue of %d",
				state.CurrentIndex, len(state.Queue))
		}
		if !state.IsPlaying {
			t.Error("expected playing state")
		}
		if state.CurrentTrack.ID != queue[1].ID {
			t.Errorf("expected current track %d, got %d", queue[1].ID, state.CurrentTrack.ID)
		}
		if device.lastLoaded() != queue[1].URL {
			t.Errorf("expected device loaded with %s, got %s", queue[1].URL, device.lastLoaded())
		}
	})

	t.Run("Track Missing From New Queue Gets Index Zero", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(3)
		outsider := testTrack(99, "outsider")

		if err := engine.Play(context.Background(), outsider, queue); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if state := engine.State(); state.CurrentIndex != 0 {
			t.Errorf("expected index 0, got %d", state.CurrentIndex)
		}
	})

	t.Run("Nil Queue Reuses Existing Position", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(3)

		if err := engine.Play(context.Background(), queue[0], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}
		if err := engine.Play(context.Background(), queue[2], nil); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		state := engine.State()
		if len(state.Queue) != 3 || state.CurrentIndex != 2 {
			t.Errorf("expected index 2 in untouched queue, got index %d in queue of %d",
				state.CurrentIndex, len(state.Queue))
		}
	})

	t.Run("Nil Queue Appends Unknown Track", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(2)

		if err := engine.Play(context.Background(), queue[0], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}

		outsider := testTrack(99, "outsider")
		if err := engine.Play(context.Background(), outsider, nil); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		state := engine.State()
		if len(state.Queue) != 3 || state.CurrentIndex != 2 {
			t.Errorf("expected appended track at index 2, got index %d in queue of %d",
				state.CurrentIndex, len(state.Queue))
		}
	})

	t.Run("Unresolvable Track Leaves State Intact", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, URLProviderFunc(func(ctx context.Context, trackID int64) (string, error) {
			return "", errors.New("no source")
		}))
		queue := testQueue(3)

		if err := engine.Play(context.Background(), queue[0], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}
		before := engine.State()

		unresolvable := &types.Track{ID: 50, Title: "ghost"}
		if err := engine.Play(context.Background(), unresolvable, []*types.Track{unresolvable}); err == nil {
			t.Fatal("expected error for unresolvable track")
		}

		after := engine.State()
		if len(after.Queue) != len(before.Queue) || after.CurrentIndex != before.CurrentIndex {
			t.Error("failed play must not commit queue changes")
		}
		if after.CurrentTrack.ID != before.CurrentTrack.ID {
			t.Error("failed play must not change the current track")
		}
	})

	t.Run("Unresolvable Track On Idle Engine Stays Stopped", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, URLProviderFunc(func(ctx context.Context, trackID int64) (string, error) {
			return "", errors.New("no source")
		}))

		unresolvable := &types.Track{ID: 50, Title: "ghost"}
		if err := engine.Play(context.Background(), unresolvable, []*types.Track{unresolvable}); err == nil {
			t.Fatal("expected error for unresolvable track")
		}

		state := engine.State()
		if state.IsPlaying {
			t.Error("expected engine to stay stopped")
		}
		if state.CurrentIndex != -1 || len(state.Queue) != 0 {
			t.Errorf("expected initial queue state preserved, got index %d in queue of %d",
				state.CurrentIndex, len(state.Queue))
		}
		if calls := device.callLog(); len(calls) != 0 {
			t.Errorf("expected no device calls, got %v", calls)
		}
	})

	t.Run("Device Rejection Forces Stopped State", func(t *testing.T) {
		device := &stubDevice{playErr: errors.New("output rejected")}
		engine := newTestEngine(device, nil)
		queue := testQueue(1)

		if err := engine.Play(context.Background(), queue[0], queue); err == nil {
			t.Fatal("expected error when device refuses to start")
		}

		if state := engine.State(); state.IsPlaying {
			t.Error("expected stopped state after device rejection")
		}
	})

	t.Run("Nil Track Rejected", func(t *testing.T) {
		engine := newTestEngine(&stubDevice{}, nil)
		if err := engine.Play(context.Background(), nil, nil); err == nil {
			t.Fatal("expected error for nil track")
		}
	})
}

func TestTransport(t *testing.T) {
	t.Run("Pause Then Resume", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(1)

		if err := engine.Play(context.Background(), queue[0], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}

		if err := engine.Pause(); err != nil {
			t.Fatalf("pause: %v", err)
		}
		if engine.State().IsPlaying {
			t.Error("expected paused state")
		}

		if err := engine.Resume(); err != nil {
			t.Fatalf("resume: %v", err)
		}
		if !engine.State().IsPlaying {
			t.Error("expected playing state after resume")
		}
	})

	t.Run("Pause Without Track Is Noop", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)

		if err := engine.Pause(); err != nil {
			t.Fatalf("pause: %v", err)
		}
		if err := engine.Resume(); err != nil {
			t.Fatalf("resume: %v", err)
		}
		if calls := device.callLog(); len(calls) != 0 {
			t.Errorf("expected no device calls, got %v", calls)
		}
	})

	t.Run("Toggle Flips Both Ways", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(1)

		if err := engine.Play(context.Background(), queue[0], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}

		if err := engine.TogglePlayPause(); err != nil {
			t.Fatalf("toggle: %v", err)
		}
		if engine.State().IsPlaying {
			t.Error("expected paused after first toggle")
		}
		if err := engine.TogglePlayPause(); err != nil {
			t.Fatalf("toggle: %v", err)
		}
		if !engine.State().IsPlaying {
			t.Error("expected playing after second toggle")
		}
	})
}

func TestStep(t *testing.T) {
	seed := func(t *testing.T, device Device, start int) (*Engine, []*types.Track) {
		t.Helper()
		engine := newTestEngine(device, nil)
		queue := testQueue(3)
		if err := engine.Play(context.Background(), queue[start], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}
		return engine, queue
	}

	t.Run("Next Advances", func(t *testing.T) {
		engine, queue := seed(t, &stubDevice{}, 0)

		if err := engine.Next(context.Background()); err != nil {
			t.Fatalf("next: %v", err)
		}
		state := engine.State()
		if state.CurrentIndex != 1 || state.CurrentTrack.ID != queue[1].ID {
			t.Errorf("expected index 1, got %d", state.CurrentIndex)
		}
	})

	t.Run("Next At End Without Repeat Clamps", func(t *testing.T) {
		device := &stubDevice{}
		engine, _ := seed(t, device, 2)
		loadsBefore := len(device.callLog())

		if err := engine.Next(context.Background()); err != nil {
			t.Fatalf("next: %v", err)
		}

		if state := engine.State(); state.CurrentIndex != 2 {
			t.Errorf("expected clamp at last index, got %d", state.CurrentIndex)
		}
		if calls := device.callLog(); len(calls) != loadsBefore {
			t.Errorf("clamped step must not touch the device, got %v", calls[loadsBefore:])
		}
	})

	t.Run("Next At End With Repeat Wraps", func(t *testing.T) {
		engine, queue := seed(t, &stubDevice{}, 2)
		engine.ToggleRepeat()

		if err := engine.Next(context.Background()); err != nil {
			t.Fatalf("next: %v", err)
		}

		state := engine.State()
		if state.CurrentIndex != 0 || state.CurrentTrack.ID != queue[0].ID {
			t.Errorf("expected wrap to index 0, got %d", state.CurrentIndex)
		}
	})

	t.Run("Previous At Start Without Repeat Clamps", func(t *testing.T) {
		engine, _ := seed(t, &stubDevice{}, 0)

		if err := engine.Previous(context.Background()); err != nil {
			t.Fatalf("previous: %v", err)
		}
		if state := engine.State(); state.CurrentIndex != 0 {
			t.Errorf("expected clamp at index 0, got %d", state.CurrentIndex)
		}
	})

	t.Run("Previous At Start With Repeat Wraps", func(t *testing.T) {
		engine, _ := seed(t, &stubDevice{}, 0)
		engine.ToggleRepeat()

		if err := engine.Previous(context.Background()); err != nil {
			t.Fatalf("previous: %v", err)
		}
		if state := engine.State(); state.CurrentIndex != 2 {
			t.Errorf("expected wrap to last index, got %d", state.CurrentIndex)
		}
	})

	t.Run("Empty Queue Is Noop", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)

		if err := engine.Next(context.Background()); err != nil {
			t.Fatalf("next: %v", err)
		}
		if err := engine.Previous(context.Background()); err != nil {
			t.Fatalf("previous: %v", err)
		}
		if calls := device.callLog(); len(calls) != 0 {
			t.Errorf("expected no device calls, got %v", calls)
		}
	})

	t.Run("Unresolvable Neighbor Does Not Advance", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, URLProviderFunc(func(ctx context.Context, trackID int64) (string, error) {
			return "", errors.New("no source")
		}))

		queue := testQueue(2)
		queue[1] = &types.Track{ID: 2, Title: "ghost"}
		if err := engine.Play(context.Background(), queue[0], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}

		if err := engine.Next(context.Background()); err != nil {
			t.Fatalf("next must swallow resolution failures, got %v", err)
		}

		state := engine.State()
		if state.CurrentIndex != 0 {
			t.Errorf("expected index unchanged, got %d", state.CurrentIndex)
		}
	})

	t.Run("Shuffle Flag Does Not Reorder Traversal", func(t *testing.T) {
		engine, queue := seed(t, &stubDevice{}, 0)
		engine.ToggleShuffle()

		if err := engine.Next(context.Background()); err != nil {
			t.Fatalf("next: %v", err)
		}

		state := engine.State()
		if !state.Shuffled {
			t.Error("expected shuffled flag set")
		}
		if state.CurrentIndex != 1 || state.CurrentTrack.ID != queue[1].ID {
			t.Errorf("expected sequential advance regardless of shuffle, got index %d", state.CurrentIndex)
		}
		for i, track := range state.Queue {
			if track.ID != queue[i].ID {
				t.Fatalf("expected queue order untouched, position %d changed", i)
			}
		}
	})
}

func TestTrackEnd(t *testing.T) {
	t.Run("Repeat Restarts Same Track", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(2)

		if err := engine.Play(context.Background(), queue[0], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}
		engine.ToggleRepeat()

		device.onFinished()

		state := engine.State()
		if state.CurrentIndex != 0 {
			t.Errorf("expected same track, got index %d", state.CurrentIndex)
		}
		if !state.IsPlaying {
			t.Error("expected playback restarted")
		}

		calls := device.callLog()
		if len(calls) < 2 || calls[len(calls)-2] != "seek" || calls[len(calls)-1] != "play" {
			t.Errorf("expected seek-to-zero then play, got %v", calls)
		}
	})

	t.Run("No Repeat Advances", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(2)

		if err := engine.Play(context.Background(), queue[0], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}

		device.onFinished()

		state := engine.State()
		if state.CurrentIndex != 1 || state.CurrentTrack.ID != queue[1].ID {
			t.Errorf("expected advance to index 1, got %d", state.CurrentIndex)
		}
		if !state.IsPlaying {
			t.Error("expected next track playing")
		}
	})

	t.Run("End Of Queue Stops", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(2)

		if err := engine.Play(context.Background(), queue[1], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}

		device.onFinished()

		state := engine.State()
		if state.IsPlaying {
			t.Error("expected stopped state at end of queue")
		}
		if state.CurrentIndex != 1 {
			t.Errorf("expected index held at end, got %d", state.CurrentIndex)
		}
	})
}

func TestQueueOps(t *testing.T) {
	t.Run("Add To Empty Queue Sets Index", func(t *testing.T) {
		engine := newTestEngine(&stubDevice{}, nil)

		engine.AddToQueue(testTrack(1, "first"))

		state := engine.State()
		if len(state.Queue) != 1 || state.CurrentIndex != 0 {
			t.Errorf("expected index 0 in queue of 1, got index %d in queue of %d",
				state.CurrentIndex, len(state.Queue))
		}
	})

	t.Run("Add Keeps Current Position", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(2)

		if err := engine.Play(context.Background(), queue[1], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}

		engine.AddToQueue(testTrack(9, "appended"))

		state := engine.State()
		if len(state.Queue) != 3 || state.CurrentIndex != 1 {
			t.Errorf("expected index 1 in queue of 3, got index %d in queue of %d",
				state.CurrentIndex, len(state.Queue))
		}
	})

	t.Run("Remove Before Current Shifts Index", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(3)

		if err := engine.Play(context.Background(), queue[2], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}

		engine.RemoveFromQueue(0)

		state := engine.State()
		if state.CurrentIndex != 1 || state.CurrentTrack.ID != queue[2].ID {
			t.Errorf("expected current track to follow the shift, got index %d", state.CurrentIndex)
		}
	})

	t.Run("Remove Last Entry Clamps Index", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(2)

		if err := engine.Play(context.Background(), queue[1], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}

		engine.RemoveFromQueue(1)

		state := engine.State()
		if state.CurrentIndex != 0 || len(state.Queue) != 1 {
			t.Errorf("expected clamp to index 0, got %d", state.CurrentIndex)
		}
	})

	t.Run("Remove Only Entry Empties", func(t *testing.T) {
		engine := newTestEngine(&stubDevice{}, nil)
		engine.AddToQueue(testTrack(1, "only"))

		engine.RemoveFromQueue(0)

		state := engine.State()
		if len(state.Queue) != 0 || state.CurrentIndex != -1 {
			t.Errorf("expected empty queue with index -1, got index %d", state.CurrentIndex)
		}
	})

	t.Run("Remove Out Of Range Ignored", func(t *testing.T) {
		engine := newTestEngine(&stubDevice{}, nil)
		engine.AddToQueue(testTrack(1, "only"))

		engine.RemoveFromQueue(-1)
		engine.RemoveFromQueue(5)

		if state := engine.State(); len(state.Queue) != 1 {
			t.Errorf("expected queue untouched, got %d entries", len(state.Queue))
		}
	})

	t.Run("Index Stays Valid Across Mixed Operations", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(3)

		check := func(after string) {
			t.Helper()
			state := engine.State()
			if len(state.Queue) > 0 && (state.CurrentIndex < 0 || state.CurrentIndex >= len(state.Queue)) {
				t.Fatalf("after %s: index %d out of range for queue of %d",
					after, state.CurrentIndex, len(state.Queue))
			}
		}

		if err := engine.Play(context.Background(), queue[1], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}
		check("play")
		engine.Next(context.Background())
		check("next")
		engine.RemoveFromQueue(0)
		check("remove 0")
		engine.AddToQueue(testTrack(9, "appended"))
		check("add")
		engine.Previous(context.Background())
		check("previous")
		engine.RemoveFromQueue(2)
		check("remove 2")
		engine.ClearQueue()
		check("clear")
		engine.AddToQueue(testTrack(10, "fresh"))
		check("add after clear")
	})

	t.Run("Clear Resets Index And Spares Device", func(t *testing.T) {
		device := &stubDevice{}
		engine := newTestEngine(device, nil)
		queue := testQueue(3)

		if err := engine.Play(context.Background(), queue[1], queue); err != nil {
			t.Fatalf("seed play: %v", err)
		}
		callsBefore := len(device.callLog())

		engine.ClearQueue()

		state := engine.State()
		if len(state.Queue) != 0 || state.CurrentIndex != 0 {
			t.Errorf("expected empty queue with index 0, got index %d in queue of %d",
				state.CurrentIndex, len(state.Queue))
		}
		if calls := device.callLog(); len(calls) != callsBefore {
			t.Errorf("clear must not command the device, got %v", calls[callsBefore:])
		}
	})
}

func TestSeek(t *testing.T) {
	device := &stubDevice{}
	engine := newTestEngine(device, nil)

	t.Run("Valid Position", func(t *testing.T) {
		if err := engine.Seek(42.5); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got := engine.State().CurrentTime; got != 42500*time.Millisecond {
			t.Errorf("expected 42.5s, got %v", got)
		}
	})

	t.Run("NaN Rejected", func(t *testing.T) {
		if err := engine.Seek(math.NaN()); err == nil {
			t.Error("expected error for NaN seek")
		}
	})

	t.Run("Infinity Rejected", func(t *testing.T) {
		if err := engine.Seek(math.Inf(1)); err == nil {
			t.Error("expected error for +Inf seek")
		}
		if err := engine.Seek(math.Inf(-1)); err == nil {
			t.Error("expected error for -Inf seek")
		}
	})
}

func TestSetVolume(t *testing.T) {
	cases := []struct {
		name  string
		input float64
		want  float64
	}{
		{"In Range", 0.5, 0.5},
		{"Above One", 2.5, 1},
		{"Below Zero", -0.5, 0},
		{"NaN", math.NaN(), 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			device := &stubDevice{}
			engine := newTestEngine(device, nil)

			if err := engine.SetVolume(tc.input); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got := engine.State().Volume; got != tc.want {
				t.Errorf("expected volume %v, got %v", tc.want, got)
			}
			if device.volume != tc.want {
				t.Errorf("expected device volume %v, got %v", tc.want, device.volume)
			}
		})
	}
}

func TestVolumeSurvivesTrackChange(t *testing.T) {
	device := &stubDevice{}
	engine := newTestEngine(device, nil)
	queue := testQueue(2)

	if err := engine.Play(context.Background(), queue[0], queue); err != nil {
		t.Fatalf("seed play: %v", err)
	}
	if err := engine.SetVolume(0.3); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	if err := engine.Next(context.Background()); err != nil {
		t.Fatalf("next: %v", err)
	}

	if device.volume != 0.3 {
		t.Errorf("expected volume reapplied on track change, got %v", device.volume)
	}
}

func TestStaleResolutionDiscarded(t *testing.T) {
	device := &stubDevice{}

	entered := make(chan struct{})
	block := make(chan struct{})
	slow := URLProviderFunc(func(ctx context.Context, trackID int64) (string, error) {
		if trackID == 100 {
			close(entered)
			<-block
			return "https://cdn.example.com/slow.mp3", nil
		}
		return "https://cdn.example.com/fast.mp3", nil
	})

	engine := newTestEngine(device, slow)

	slowTrack := &types.Track{ID: 100, Title: "slow"}
	fastTrack := &types.Track{ID: 200, Title: "fast"}

	done := make(chan error, 1)
	go func() {
		done <- engine.Play(context.Background(), slowTrack, []*types.Track{slowTrack})
	}()

	// A newer command lands while the first resolution is still in flight.
	<-entered
	if err := engine.Play(context.Background(), fastTrack, []*types.Track{fastTrack}); err != nil {
		t.Fatalf("second play: %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("stale play must be dropped silently, got %v", err)
	}

	state := engine.State()
	if state.CurrentTrack == nil || state.CurrentTrack.ID != fastTrack.ID {
		t.Errorf("expected the newer command to win, got %+v", state.CurrentTrack)
	}
	if device.lastLoaded() != "https://cdn.example.com/fast.mp3" {
		t.Errorf("stale resolution must not reach the device, got %s", device.lastLoaded())
	}
}

// blockingLoadDevice holds Load open for one URL so a newer command can
// overtake a suspended one mid-load.
type blockingLoadDevice struct {
	stubDevice
	blockURL string
	entered  chan struct{}
	release  chan struct{}
}

func (d *blockingLoadDevice) Load(ctx context.Context, url string) error {
	if url == d.blockURL {
		close(d.entered)
		<-d.release
	}
	return d.stubDevice.Load(ctx, url)
}

func TestStaleLoadNeverStartsPlayback(t *testing.T) {
	slowTrack := testTrack(1, "slow")
	fastTrack := testTrack(2, "fast")

	device := &blockingLoadDevice{
		blockURL: slowTrack.URL,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	engine := newTestEngine(device, nil)

	done := make(chan error, 1)
	go func() {
		done <- engine.Play(context.Background(), slowTrack, []*types.Track{slowTrack, fastTrack})
	}()

	// The newer command lands while the first is suspended inside the
	// device load.
	<-device.entered
	if err := engine.Play(context.Background(), fastTrack, nil); err != nil {
		t.Fatalf("second play: %v", err)
	}

	close(device.release)
	if err := <-done; err != nil {
		t.Fatalf("overtaken play must be dropped silently, got %v", err)
	}

	state := engine.State()
	if state.CurrentTrack == nil || state.CurrentTrack.ID != fastTrack.ID {
		t.Errorf("expected the newer command to win, got %+v", state.CurrentTrack)
	}
	if !state.IsPlaying {
		t.Error("expected the newer track to stay playing")
	}

	plays := 0
	for _, call := range device.callLog() {
		if call == "play" {
			plays++
		}
	}
	if plays != 1 {
		t.Errorf("expected exactly one device play, got %d in %v", plays, device.callLog())
	}
}

func TestFindInQueue(t *testing.T) {
	engine := newTestEngine(&stubDevice{}, nil)
	engine.AddToQueue(&types.Track{ID: 1, Title: "Blue Monday"})
	engine.AddToQueue(&types.Track{ID: 2, Title: "Sunday Girl"})
	engine.AddToQueue(&types.Track{ID: 3, Title: "Atmosphere"})

	matches := engine.FindInQueue("monday")
	if len(matches) == 0 || matches[0].ID != 1 {
		t.Errorf("expected Blue Monday first, got %v", matches)
	}

	if all := engine.FindInQueue(""); len(all) != 3 {
		t.Errorf("expected empty query to return everything, got %d", len(all))
	}
}
