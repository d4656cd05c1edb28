// Package pcm converts between the raw sample formats the speech API
// produces and consumes: base64-wrapped s16le PCM on the synthesis side,
// WAV-packaged s16le PCM on the transcription upload side.
package pcm

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// Synthesized speech arrives as raw PCM in a fixed format. No autodetection:
// the API contract pins sample rate, channel count and bit depth.
const (
	SampleRate = 24000
	Channels   = 1
	BitDepth   = 16
)

// DecodeBase64 decodes a base64 payload of s16le mono samples into
// normalized float32 samples in [-1, 1). A trailing odd byte is dropped.
func DecodeBase64(payload string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode speech payload: %w", err)
	}

	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}

	const scale = 1.0 / 32768.0
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		samples[i] = float32(float64(s) * scale)
	}

	return samples, nil
}

// Duration reports the playback time of n samples at the fixed rate.
func Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// EncodeWAV packages float32 mono samples as a 16-bit PCM WAV file, the
// container the transcription endpoint accepts. Samples outside [-1, 1]
// are clipped.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataSize := uint32(len(samples) * 2)

	var buf bytes.Buffer
	buf.Grow(44 + int(dataSize))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*Channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(Channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(BitDepth))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)

	for _, s := range samples {
		v := float64(s) * 32767.0
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		binary.Write(&buf, binary.LittleEndian, int16(v))
	}

	return buf.Bytes()
}
