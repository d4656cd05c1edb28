package player

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var volumeRe = regexp.MustCompile(`(\d+)\s*%`)

// Ducker fades down every other PulseAudio playback stream while the
// spoken explanation plays, and restores the original volumes afterward.
// Streams whose application.name matches selfName are left alone.
type Ducker struct {
	mu       sync.Mutex
	selfName string
	factor   float64
	fade     time.Duration

	active   bool
	restored map[int]int // sink-input id -> volume % before ducking
}

func NewDucker(selfName string, factor float64, fade time.Duration) *Ducker {
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}
	return &Ducker{
		selfName: selfName,
		factor:   factor,
		fade:     fade,
		restored: make(map[int]int),
	}
}

// Duck lowers foreign streams to volume*factor. Already active is a no-op.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := sinkInputs(ctx)
	if err != nil {
		return fmt.Errorf("list sink inputs: %w", err)
	}

	d.restored = make(map[int]int)
	for _, s := range streams {
		if s.app == d.selfName {
			continue
		}
		target := int(math.Round(float64(s.volume) * d.factor))
		d.restored[s.id] = s.volume
		if err := fadeVolume(ctx, s.id, s.volume, target, d.fade); err != nil {
			return err
		}
	}

	d.active = true
	return nil
}

// Restore returns previously ducked streams to their original volumes.
// Streams that appeared after Duck are not touched.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	streams, err := sinkInputs(ctx)
	if err != nil {
		return fmt.Errorf("list sink inputs: %w", err)
	}

	for _, s := range streams {
		orig, ok := d.restored[s.id]
		if !ok {
			continue
		}
		if err := fadeVolume(ctx, s.id, s.volume, orig, d.fade); err != nil {
			return err
		}
	}

	d.restored = make(map[int]int)
	d.active = false
	return nil
}

type sinkInput struct {
	id     int
	volume int
	app    string
}

func sinkInputs(ctx context.Context) ([]sinkInput, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, err
	}

	var res []sinkInput
	blocks := strings.Split(string(out), "Sink Input #")
	for _, block := range blocks[1:] {
		nl := strings.IndexByte(block, '\n')
		if nl <= 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(block[:nl]))
		if err != nil {
			continue
		}

		s := sinkInput{id: id}
		for _, line := range strings.Split(block[nl+1:], "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "Volume:") && s.volume == 0 {
				if m := volumeRe.FindStringSubmatch(line); len(m) == 2 {
					s.volume, _ = strconv.Atoi(m[1])
				}
			}
			if strings.HasPrefix(line, "application.name =") && s.app == "" {
				if i := strings.IndexByte(line, '"'); i >= 0 {
					rest := line[i+1:]
					if j := strings.IndexByte(rest, '"'); j >= 0 {
						s.app = rest[:j]
					}
				}
			}
		}
		res = append(res, s)
	}
	return res, nil
}

// fadeVolume steps a sink input from one volume to another over dur.
func fadeVolume(ctx context.Context, id, from, to int, dur time.Duration) error {
	const step = 25 * time.Millisecond

	steps := int(dur / step)
	if steps < 1 {
		steps = 1
	}

	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frac := float64(i) / float64(steps)
		v := int(math.Round(float64(from) + float64(to-from)*frac))
		arg := strconv.Itoa(v) + "%"
		if err := exec.CommandContext(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), arg).Run(); err != nil {
			return fmt.Errorf("set volume id=%d: %w", id, err)
		}
		if i < steps {
			time.Sleep(step)
		}
	}
	return nil
}
