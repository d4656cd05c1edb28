// Package notify gives audible and desktop feedback around the
// listening window.
package notify

import (
	"os/exec"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/generators"
	"github.com/faiface/beep/speaker"

	"sage/pkg/pcm"
)

// Cue plays a short tone through the shared speaker. Listening starts at
// 880 Hz, done at 660 Hz.
func Cue(freq int) {
	sr := beep.SampleRate(pcm.SampleRate)
	tone, err := generators.SinTone(sr, freq)
	if err != nil {
		return
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(beep.Take(sr.N(120*time.Millisecond), tone), beep.Callback(func() {
		close(done)
	})))
	<-done
}

// Desktop posts a best-effort desktop notification.
func Desktop(text string) {
	exec.Command("notify-send", "Sage", text).Run()
}
