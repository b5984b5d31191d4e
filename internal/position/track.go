package position

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mmynk/tripsync/internal/models"
)

// TrackDevice replays a recorded track from a newline-delimited JSON file.
// Each line is {"lat": 50.94, "lng": 6.96, "delay_ms": 1000}; delay_ms is the
// pause before the fix is reported and defaults to Interval. Lines that do not
// parse are reported as warnings.
type TrackDevice struct {
	Path     string
	Interval time.Duration
}

type trackPoint struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	DelayMS int64    `json:"delay_ms"`
}

// Open implements Device.
func (d *TrackDevice) Open(ctx context.Context, _ WatchOptions) (Watcher, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open track: %w", err)
	}
	return newReaderWatcher(ctx, f, d.Interval), nil
}

type readerWatcher struct {
	fixes    chan models.Fix
	warnings chan error
	cancel   context.CancelFunc
	done     chan struct{}
	src      io.Closer
	once     sync.Once
	closeErr error
}

func newReaderWatcher(ctx context.Context, src io.ReadCloser, interval time.Duration) *readerWatcher {
	ctx, cancel := context.WithCancel(ctx)
	w := &readerWatcher{
		fixes:    make(chan models.Fix),
		warnings: make(chan error),
		cancel:   cancel,
		done:     make(chan struct{}),
		src:      src,
	}
	go w.run(ctx, src, interval)
	return w
}

func (w *readerWatcher) run(ctx context.Context, r io.Reader, interval time.Duration) {
	defer close(w.done)
	defer close(w.fixes)

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var p trackPoint
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil || p.Lat == nil || p.Lng == nil {
			w.warn(ctx, fmt.Errorf("track line %d: no fix", line))
			continue
		}

		delay := interval
		if p.DelayMS > 0 {
			delay = time.Duration(p.DelayMS) * time.Millisecond
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		select {
		case <-ctx.Done():
			return
		case w.fixes <- models.Fix{Lat: *p.Lat, Lng: *p.Lng}:
		}
	}
	if err := scanner.Err(); err != nil {
		w.warn(ctx, fmt.Errorf("track read: %w", err))
	}
}

func (w *readerWatcher) warn(ctx context.Context, err error) {
	select {
	case <-ctx.Done():
	case w.warnings <- err:
	}
}

func (w *readerWatcher) Fixes() <-chan models.Fix { return w.fixes }
func (w *readerWatcher) Warnings() <-chan error   { return w.warnings }

// Close stops the replay and closes the underlying file.
func (w *readerWatcher) Close() error {
	w.once.Do(func() {
		w.cancel()
		w.closeErr = w.src.Close()
		<-w.done
	})
	return w.closeErr
}
