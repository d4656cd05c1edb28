// Package recorder captures microphone audio as 16 kHz mono float32
// samples, the format the transcription stage consumes.
package recorder

import (
	"errors"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	sampleRate = 16000
	frameSize  = 320 // 20 ms
)

// ErrNoSpeech reports a capture that ran fine but never rose above the
// silence threshold. Callers present it as "nothing heard", not as a
// device failure.
var ErrNoSpeech = errors.New("no speech captured")

type Recorder struct{}

func New() *Recorder { return &Recorder{} }

// Init acquires the audio host API. Call once at boot, pair with Close.
func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Auto records until the speaker falls silent: capture starts on the
// first frame above the RMS threshold and ends after sustained silence,
// or at the hard length cap. The stream is released on every exit path.
func (r *Recorder) Auto() ([]float32, error) {
	const (
		silenceRMS    = 0.015
		silenceFrames = 30 // 600 ms of 20 ms frames
		maxSeconds    = 15
	)

	buf := make([]float32, frameSize)
	out := make([]float32, 0, sampleRate*3)

	stream, err := portaudio.OpenDefaultStream(1, 0, sampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	var (
		speaking bool
		quiet    int
	)

	maxFrames := maxSeconds * sampleRate / frameSize
	for i := 0; i < maxFrames; i++ {
		if err := stream.Read(); err != nil {
			return nil, err
		}

		if frameRMS(buf) > silenceRMS {
			speaking = true
			quiet = 0
			out = append(out, buf...)
			continue
		}

		if speaking {
			quiet++
			if quiet >= silenceFrames {
				break
			}
			out = append(out, buf...)
		}
	}

	if len(out) == 0 {
		return nil, ErrNoSpeech
	}
	return out, nil
}

// Until records until the stop channel fires or maxDur elapses. Used for
// UI-toggled recording where the user decides when to stop.
func (r *Recorder) Until(stop <-chan struct{}, maxDur time.Duration) ([]float32, error) {
	if maxDur <= 0 {
		maxDur = 30 * time.Second
	}

	buf := make([]float32, frameSize)
	out := make([]float32, 0, int(float64(sampleRate)*maxDur.Seconds()))

	stream, err := portaudio.OpenDefaultStream(1, 0, sampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	deadline := time.Now().Add(maxDur)
	for time.Now().Before(deadline) {
		select {
		case <-stop:
			if len(out) == 0 {
				return nil, ErrNoSpeech
			}
			return out, nil
		default:
		}

		if err := stream.Read(); err != nil {
			return nil, err
		}
		out = append(out, buf...)
	}

	if len(out) == 0 {
		return nil, ErrNoSpeech
	}
	return out, nil
}

func frameRMS(f []float32) float64 {
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
