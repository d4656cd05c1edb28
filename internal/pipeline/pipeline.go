// Package pipeline sequences the remote generation stages for one query:
// transcribe (optional), explain, then diagram and speech in parallel.
// Results merge into a single aggregate that subscribers observe as
// immutable snapshots.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// Phase is the UI-visible stage of the current query.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseRecording    Phase = "recording"
	PhaseTranscribing Phase = "transcribing"
	PhaseProcessing   Phase = "processing"
	PhaseCompleted    Phase = "completed"
	PhaseError        Phase = "error"
)

// ErrBusy is returned when a query is started while another is between
// recording and the end of its explain stage. Completed queries with
// diagram or speech still in flight do not count as busy; a new query
// simply orphans the stragglers.
var ErrBusy = errors.New("a query is already in flight")

// Explanation is the fixed three-field contract of the explain stage.
// All fields are required; a response missing any of them is a total
// stage failure.
type Explanation struct {
	Explanation        string `json:"explanation"`
	SpatialDescription string `json:"spatialDescription"`
	ImagePrompt        string `json:"imagePrompt"`
}

// Generator performs the remote generation calls.
type Generator interface {
	// Explain turns a query into the three-field explanation record.
	Explain(ctx context.Context, query string) (Explanation, error)
	// Diagram renders an image prompt into a data URI.
	Diagram(ctx context.Context, prompt string) (string, error)
	// Speak synthesizes text into a base64 PCM payload.
	Speak(ctx context.Context, text string) (string, error)
}

// Transcriber turns 16 kHz mono float32 samples into text.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (string, error)
}

// Result accumulates the four independently-populated outputs of one
// query. Explanation and spatial description are set together by the
// explain stage; image and speech attach later, each on its own. Fields
// are never cleared; a new query replaces the whole record.
type Result struct {
	Query              string `json:"query"`
	Explanation        string `json:"explanation"`
	SpatialDescription string `json:"spatialDescription"`
	ImageURI           string `json:"imageURI"`
	SpeechPCM          string `json:"speechPCM"`
}

// Snapshot is the full observable state pushed to subscribers after
// every change.
type Snapshot struct {
	Phase  Phase  `json:"phase"`
	Error  string `json:"error,omitempty"`
	Result Result `json:"result"`
}

type Pipeline struct {
	api Generator
	stt Transcriber
	log *slog.Logger

	mu    sync.Mutex
	snap  Snapshot
	epoch int // bumped per query; stale stage writers are discarded
	subs  map[int]chan Snapshot
	nextS int

	wg sync.WaitGroup
}

func New(api Generator, stt Transcriber, log *slog.Logger) *Pipeline {
	return &Pipeline{
		api:  api,
		stt:  stt,
		log:  log,
		snap: Snapshot{Phase: PhaseIdle},
		subs: make(map[int]chan Snapshot),
	}
}

// Subscribe returns a channel of state snapshots and a cancel function.
// Slow subscribers lose intermediate snapshots, never the latest one.
func (p *Pipeline) Subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextS
	p.nextS++
	ch := make(chan Snapshot, 16)
	ch <- p.snap
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Snapshot returns the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// Wait blocks until all in-flight stages have resolved.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Ask starts the text path of a new query: processing, then completed
// once the explain stage lands; diagram and speech fill in afterwards.
func (p *Pipeline) Ask(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return errors.New("empty query")
	}

	p.mu.Lock()
	if p.busyLocked() {
		p.mu.Unlock()
		return ErrBusy
	}
	p.epoch++
	epoch := p.epoch
	p.snap = Snapshot{Phase: PhaseProcessing, Result: Result{Query: query}}
	p.broadcastLocked()
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.explain(ctx, epoch, query)
	}()
	return nil
}

// AskPCM starts the spoken path: transcribe the samples, then continue
// like Ask. Transcription failure surfaces an error and returns to idle.
func (p *Pipeline) AskPCM(ctx context.Context, samples []float32) error {
	p.mu.Lock()
	if p.busyLocked() && p.snap.Phase != PhaseRecording {
		p.mu.Unlock()
		return ErrBusy
	}
	p.epoch++
	epoch := p.epoch
	p.snap = Snapshot{Phase: PhaseTranscribing}
	p.broadcastLocked()
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		text, err := p.stt.Transcribe(ctx, samples)
		if err != nil {
			p.log.Error("transcription failed", "err", err)
			p.mutate(epoch, func(s *Snapshot) {
				s.Phase = PhaseIdle
				s.Error = "Could not transcribe the recording."
			})
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			p.mutate(epoch, func(s *Snapshot) {
				s.Phase = PhaseIdle
				s.Error = "No speech detected."
			})
			return
		}

		p.mutate(epoch, func(s *Snapshot) {
			s.Phase = PhaseProcessing
			s.Error = ""
			s.Result.Query = text
		})
		p.explain(ctx, epoch, text)
	}()
	return nil
}

// BeginRecording marks the UI as listening. The caller owns the actual
// microphone; the pipeline only tracks the phase.
func (p *Pipeline) BeginRecording() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busyLocked() {
		return ErrBusy
	}
	p.epoch++
	p.snap = Snapshot{Phase: PhaseRecording}
	p.broadcastLocked()
	return nil
}

// AbortRecording returns to idle, optionally surfacing a one-line error
// (microphone denied, device gone). No-op outside the recording phase.
func (p *Pipeline) AbortRecording(errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snap.Phase != PhaseRecording {
		return
	}
	p.snap = Snapshot{Phase: PhaseIdle, Error: errMsg}
	p.broadcastLocked()
}

// explain runs stage two and, on success, fires the two independent
// follow-up stages. The epoch pins every write to the query that
// started it.
func (p *Pipeline) explain(ctx context.Context, epoch int, query string) {
	exp, err := p.api.Explain(ctx, query)
	if err != nil {
		p.log.Error("explain stage failed", "err", err)
		p.mutate(epoch, func(s *Snapshot) {
			s.Phase = PhaseError
			s.Error = "Something went wrong while generating the explanation."
		})
		return
	}

	p.mutate(epoch, func(s *Snapshot) {
		s.Phase = PhaseCompleted
		s.Result.Explanation = exp.Explanation
		s.Result.SpatialDescription = exp.SpatialDescription
	})

	// Diagram and speech are fire-and-forget: either failing is logged
	// and leaves its field unset without touching the phase.
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		uri, err := p.api.Diagram(ctx, exp.ImagePrompt)
		if err != nil {
			p.log.Error("diagram stage failed", "err", err)
			return
		}
		p.mutate(epoch, func(s *Snapshot) { s.Result.ImageURI = uri })
	}()
	go func() {
		defer p.wg.Done()
		speech, err := p.api.Speak(ctx, exp.Explanation)
		if err != nil {
			p.log.Error("speech stage failed", "err", err)
			return
		}
		p.mutate(epoch, func(s *Snapshot) { s.Result.SpeechPCM = speech })
	}()
}

// mutate applies fn to the shared snapshot and notifies subscribers,
// unless the writer belongs to a superseded query.
func (p *Pipeline) mutate(epoch int, fn func(*Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch != p.epoch {
		p.log.Debug("discarding update from superseded query", "epoch", epoch)
		return
	}
	fn(&p.snap)
	p.broadcastLocked()
}

func (p *Pipeline) busyLocked() bool {
	switch p.snap.Phase {
	case PhaseRecording, PhaseTranscribing, PhaseProcessing:
		return true
	}
	return false
}

func (p *Pipeline) broadcastLocked() {
	for _, ch := range p.subs {
		select {
		case ch <- p.snap:
		default:
			// Full buffer: drop the oldest snapshot so the latest
			// always gets through.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- p.snap:
			default:
			}
		}
	}
}
