// Package player owns the decoded speech clip and drives play/pause/stop
// with manual offset bookkeeping across pause/resume cycles.
package player

import (
	"sync"
	"time"

	"github.com/faiface/beep"

	"sage/pkg/pcm"
)

// Output is the audio sink the player talks to. The production
// implementation wraps the beep speaker; tests substitute a fake.
type Output interface {
	Play(s beep.Streamer)
	// Clear halts whatever is queued. Clearing an already-silent output
	// must be harmless.
	Clear()
	Close() error
}

type state int

const (
	stateStopped state = iota
	statePlaying
	statePaused
)

// Player holds at most one clip and exactly one playback position.
// Pause remembers the elapsed offset; natural completion and Stop reset
// it to zero, so a finished clip replays from the start.
type Player struct {
	mu     sync.Mutex
	out    Output
	now    func() time.Time
	clip   *beep.Buffer
	format beep.Format

	state     state
	offset    time.Duration // accumulated position; valid in paused/stopped
	startedAt time.Time     // wall-clock reference; valid while playing
	gen       int           // invalidates completion callbacks of old streamers

	onChange  func()
	closeOnce sync.Once
}

func New(out Output) *Player {
	return &Player{
		out: out,
		now: time.Now,
		format: beep.Format{
			SampleRate:  beep.SampleRate(pcm.SampleRate),
			NumChannels: pcm.Channels,
			Precision:   pcm.BitDepth / 8,
		},
	}
}

// OnChange registers a hook invoked after every state transition,
// including natural completion. Set it before playback starts.
func (p *Player) OnChange(fn func()) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// SetClip replaces the current clip with freshly decoded samples and
// resets the position. Any in-flight playback is halted first.
func (p *Player) SetClip(samples []float32) {
	p.mu.Lock()
	p.gen++
	p.state = stateStopped
	p.offset = 0

	buf := beep.NewBuffer(p.format)
	buf.Append(&clipStreamer{samples: samples})
	p.clip = buf
	p.mu.Unlock()

	p.out.Clear()
	p.changed()
}

// Unload drops the clip entirely; Play becomes a no-op until the next
// SetClip.
func (p *Player) Unload() {
	p.mu.Lock()
	p.gen++
	p.state = stateStopped
	p.offset = 0
	p.clip = nil
	p.mu.Unlock()

	p.out.Clear()
	p.changed()
}

// Play starts a fresh streamer at the last paused offset, zero initially.
// Without a clip, or while already playing, it is a no-op.
func (p *Player) Play() {
	p.mu.Lock()
	if p.clip == nil || p.state == statePlaying {
		p.mu.Unlock()
		return
	}

	from := p.format.SampleRate.N(p.offset)
	if from >= p.clip.Len() {
		from = 0
	}
	streamer := p.clip.Streamer(from, p.clip.Len())

	p.state = statePlaying
	p.startedAt = p.now()
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	p.out.Play(beep.Seq(streamer, beep.Callback(func() {
		p.finished(gen)
	})))
	p.changed()
}

// Pause halts playback and stores the elapsed offset. Pausing while not
// playing is a no-op.
func (p *Player) Pause() {
	p.mu.Lock()
	if p.state != statePlaying {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.offset += p.now().Sub(p.startedAt)
	p.state = statePaused
	p.mu.Unlock()

	p.out.Clear()
	p.changed()
}

// Stop unconditionally halts playback and resets the position to zero.
// Safe to call in any state, any number of times.
func (p *Player) Stop() {
	p.mu.Lock()
	p.gen++
	p.offset = 0
	p.state = stateStopped
	p.mu.Unlock()

	p.out.Clear()
	p.changed()
}

// Toggle flips between playing and paused, the only transition the UI
// button drives.
func (p *Player) Toggle() {
	if p.IsPlaying() {
		p.Pause()
	} else {
		p.Play()
	}
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == statePlaying
}

// Loaded reports whether a clip is present.
func (p *Player) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clip != nil
}

// Position reports the current offset into the clip.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == statePlaying {
		return p.offset + p.now().Sub(p.startedAt)
	}
	return p.offset
}

// Close releases the audio output. Further calls are no-ops.
func (p *Player) Close() {
	p.Stop()
	p.closeOnce.Do(func() {
		p.out.Close()
	})
}

// finished runs when a streamer reaches the end of the clip. Stale
// callbacks from streamers superseded by pause/stop/replacement carry an
// old generation and are ignored.
func (p *Player) finished(gen int) {
	p.mu.Lock()
	if gen != p.gen || p.state != statePlaying {
		p.mu.Unlock()
		return
	}
	p.state = stateStopped
	p.offset = 0
	p.mu.Unlock()

	p.changed()
}

// changed fires the OnChange hook outside p.mu so the hook may call
// back into the player.
func (p *Player) changed() {
	p.mu.Lock()
	fn := p.onChange
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// clipStreamer adapts normalized mono samples to the beep streaming
// interface; the mono sample is mirrored onto both output channels.
type clipStreamer struct {
	samples []float32
	pos     int
}

func (c *clipStreamer) Stream(out [][2]float64) (int, bool) {
	if c.pos >= len(c.samples) {
		return 0, false
	}
	n := 0
	for n < len(out) && c.pos < len(c.samples) {
		v := float64(c.samples[c.pos])
		out[n][0], out[n][1] = v, v
		n++
		c.pos++
	}
	return n, true
}

func (c *clipStreamer) Err() error { return nil }
