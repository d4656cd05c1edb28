package player

import (
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"sage/pkg/pcm"
)

// SpeakerOutput routes playback through the process-global beep speaker.
type SpeakerOutput struct{}

// InitSpeaker opens the audio device at the speech sample rate. Must run
// once before the first Play.
func InitSpeaker() error {
	sr := beep.SampleRate(pcm.SampleRate)
	return speaker.Init(sr, sr.N(100*time.Millisecond))
}

func (SpeakerOutput) Play(s beep.Streamer) { speaker.Play(s) }

func (SpeakerOutput) Clear() { speaker.Clear() }

func (SpeakerOutput) Close() error {
	speaker.Close()
	return nil
}
