package audioconv

import (
	"os"
	"path/filepath"
	"testing"

	"sage/pkg/pcm"
)

func TestDownmix(t *testing.T) {
	stereo := []float32{1, 0, 0.5, 0.5, -1, 1}
	mono := downmix(stereo, 2)

	want := []float32{0.5, 0.5, 0}
	if len(mono) != len(want) {
		t.Fatalf("downmix length = %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if diff := mono[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("frame %d = %v, want %v", i, mono[i], want[i])
		}
	}
}

func TestResampleHalvesRate(t *testing.T) {
	in := make([]float32, 32000) // one second at 32 kHz
	out := resample(in, 32000, 16000)
	if len(out) != 16000 {
		t.Errorf("resampled length = %d, want 16000", len(out))
	}
}

func TestResampleSameRatePassthrough(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := resample(in, 16000, 16000)
	if len(out) != 3 {
		t.Fatalf("passthrough length = %d", len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d changed: %v -> %v", i, in[i], out[i])
		}
	}
}

func TestResampleInterpolates(t *testing.T) {
	in := []float32{0, 1}
	out := resample(in, 16000, 32000)
	if len(out) < 3 {
		t.Fatalf("upsampled length = %d", len(out))
	}
	// Midpoint of a 0..1 ramp should sit near 0.5.
	if mid := out[1]; mid < 0.4 || mid > 0.6 {
		t.Errorf("interpolated midpoint = %v, want ~0.5", mid)
	}
}

func TestIntsToFloat32Clamps(t *testing.T) {
	out := intsToFloat32([]int{0, 16384, -32768, 40000}, 16)
	if out[0] != 0 {
		t.Errorf("zero sample = %v", out[0])
	}
	if diff := out[1] - 0.5; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("half-scale sample = %v, want 0.5", out[1])
	}
	if out[2] != -1 {
		t.Errorf("full negative = %v, want -1", out[2])
	}
	if out[3] > 1 {
		t.Errorf("overflowing sample not clamped: %v", out[3])
	}
}

func TestDecodeFileWAV(t *testing.T) {
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = 0.25
	}

	path := filepath.Join(t.TempDir(), "query.wav")
	if err := os.WriteFile(path, pcm.EncodeWAV(samples, 16000), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := DecodeFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(got), len(samples))
	}
	if diff := got[100] - 0.25; diff > 1e-3 || diff < -1e-3 {
		t.Errorf("sample value = %v, want ~0.25", got[100])
	}
}

func TestDecodeFileUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeFile(path); err == nil {
		t.Error("text file decoded without error")
	}
}
