package main

import (
	"errors"
	"fmt"
	"testing"

	"sage/internal/recorder"
)

func TestCaptureFailureMessage(t *testing.T) {
	if got := captureFailureMessage(recorder.ErrNoSpeech); got != "No speech detected." {
		t.Errorf("silent capture message = %q, want 'No speech detected.'", got)
	}

	wrapped := fmt.Errorf("auto capture: %w", recorder.ErrNoSpeech)
	if got := captureFailureMessage(wrapped); got != "No speech detected." {
		t.Errorf("wrapped silent capture message = %q", got)
	}

	if got := captureFailureMessage(errors.New("device unavailable")); got != "Could not record from the microphone." {
		t.Errorf("device failure message = %q", got)
	}
}
