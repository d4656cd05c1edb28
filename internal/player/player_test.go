package player

import (
	"testing"
	"time"

	"github.com/faiface/beep"
)

// fakeOutput records what the player queues so tests can drive streamers
// to completion without an audio device.
type fakeOutput struct {
	queued []beep.Streamer
	clears int
	closes int
}

func (f *fakeOutput) Play(s beep.Streamer) { f.queued = append(f.queued, s) }
func (f *fakeOutput) Clear()               { f.clears++ }
func (f *fakeOutput) Close() error         { f.closes++; return nil }

// drain streams the last queued streamer until it is exhausted, which
// fires the player's completion callback the way the speaker would.
func (f *fakeOutput) drain(t *testing.T) {
	t.Helper()
	if len(f.queued) == 0 {
		t.Fatal("nothing queued")
	}
	s := f.queued[len(f.queued)-1]
	buf := make([][2]float64, 512)
	for {
		if _, ok := s.Stream(buf); !ok {
			return
		}
	}
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPlayer() (*Player, *fakeOutput, *fakeClock) {
	out := &fakeOutput{}
	clock := &fakeClock{t: time.Unix(1000, 0)}
	p := New(out)
	p.now = clock.now
	return p, out, clock
}

func secondsOfSilence(n int) []float32 {
	return make([]float32, n*24000)
}

func TestPlayWithoutClipIsNoop(t *testing.T) {
	p, out, _ := newTestPlayer()
	p.Play()
	if len(out.queued) != 0 {
		t.Error("Play without a clip queued audio")
	}
	if p.IsPlaying() {
		t.Error("IsPlaying = true without a clip")
	}
}

func TestPauseResumeKeepsOffset(t *testing.T) {
	p, out, clock := newTestPlayer()
	p.SetClip(secondsOfSilence(10))

	p.Play()
	if !p.IsPlaying() {
		t.Fatal("not playing after Play")
	}

	clock.advance(3 * time.Second)
	p.Pause()

	if p.IsPlaying() {
		t.Error("IsPlaying = true after Pause")
	}
	if got := p.Position(); got != 3*time.Second {
		t.Errorf("Position after pause = %v, want 3s", got)
	}

	p.Play()
	if got := p.Position(); got != 3*time.Second {
		t.Errorf("resume restarted from %v, want 3s", got)
	}
	if len(out.queued) != 2 {
		t.Errorf("queued %d streamers, want 2", len(out.queued))
	}
}

func TestPauseAccumulatesAcrossCycles(t *testing.T) {
	p, _, clock := newTestPlayer()
	p.SetClip(secondsOfSilence(10))

	p.Play()
	clock.advance(2 * time.Second)
	p.Pause()
	p.Play()
	clock.advance(1 * time.Second)
	p.Pause()

	if got := p.Position(); got != 3*time.Second {
		t.Errorf("Position = %v, want 3s", got)
	}
}

func TestPauseWhileStoppedIsNoop(t *testing.T) {
	p, out, _ := newTestPlayer()
	p.SetClip(secondsOfSilence(2))

	p.Pause()
	if got := p.Position(); got != 0 {
		t.Errorf("Position = %v, want 0", got)
	}
	if len(out.queued) != 0 {
		t.Error("Pause queued audio")
	}
}

func TestStopResetsEverything(t *testing.T) {
	p, _, clock := newTestPlayer()
	p.SetClip(secondsOfSilence(10))

	p.Play()
	clock.advance(4 * time.Second)
	p.Stop()

	if p.IsPlaying() {
		t.Error("IsPlaying after Stop")
	}
	if got := p.Position(); got != 0 {
		t.Errorf("Position after Stop = %v, want 0", got)
	}

	// Stopping again must be harmless.
	p.Stop()
	if got := p.Position(); got != 0 {
		t.Errorf("Position after double Stop = %v, want 0", got)
	}
}

func TestNaturalCompletionResetsOffset(t *testing.T) {
	p, out, clock := newTestPlayer()
	p.SetClip(secondsOfSilence(1))

	p.Play()
	clock.advance(time.Second)
	out.drain(t)

	if p.IsPlaying() {
		t.Error("IsPlaying after natural completion")
	}
	if got := p.Position(); got != 0 {
		t.Errorf("Position after completion = %v, want 0", got)
	}

	// Replay starts from the beginning, not from the stale offset.
	p.Play()
	if !p.IsPlaying() {
		t.Error("replay did not start")
	}
	if got := p.Position(); got != 0 {
		t.Errorf("replay position = %v, want 0", got)
	}
}

func TestStaleCompletionCallbackIgnored(t *testing.T) {
	p, out, clock := newTestPlayer()
	p.SetClip(secondsOfSilence(5))

	p.Play()
	clock.advance(2 * time.Second)
	p.Pause()

	// The superseded streamer drains after the pause. Its completion
	// callback must not clobber the paused offset.
	out.drain(t)

	if got := p.Position(); got != 2*time.Second {
		t.Errorf("Position = %v, want 2s", got)
	}
}

func TestSetClipResetsState(t *testing.T) {
	p, _, clock := newTestPlayer()
	p.SetClip(secondsOfSilence(10))
	p.Play()
	clock.advance(5 * time.Second)
	p.Pause()

	p.SetClip(secondsOfSilence(2))
	if got := p.Position(); got != 0 {
		t.Errorf("Position after SetClip = %v, want 0", got)
	}
	if p.IsPlaying() {
		t.Error("IsPlaying after SetClip")
	}
}

func TestCloseReleasesOutputOnce(t *testing.T) {
	p, out, _ := newTestPlayer()
	p.Close()
	p.Close()
	if out.closes != 1 {
		t.Errorf("output closed %d times, want 1", out.closes)
	}
}

func TestToggle(t *testing.T) {
	p, _, clock := newTestPlayer()
	p.SetClip(secondsOfSilence(10))

	p.Toggle()
	if !p.IsPlaying() {
		t.Fatal("first Toggle should play")
	}
	clock.advance(time.Second)
	p.Toggle()
	if p.IsPlaying() {
		t.Fatal("second Toggle should pause")
	}
	if got := p.Position(); got != time.Second {
		t.Errorf("Position = %v, want 1s", got)
	}
}
