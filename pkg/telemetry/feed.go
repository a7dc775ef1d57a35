// Package telemetry runs the live photon-polarization trace: a periodic
// stream of noise samples kept in a rolling window for dashboard display.
// The feed is independent of the session engine's QBER measurement; the two
// sample the noise source separately and are never correlated.
package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/medivault/medivault/pkg/metrics"
	"github.com/medivault/medivault/pkg/noise"
)

// FeedConfig configures the telemetry feed.
type FeedConfig struct {
	Interval      time.Duration `yaml:"interval"`       // sampling period
	Window        int           `yaml:"window"`         // rolling window length
	Sink          string        `yaml:"sink"`           // "stdout", "file", "nop"
	FilePath      string        `yaml:"file_path"`      // for the file sink
	BatchSize     int           `yaml:"batch_size"`     // samples per emitted batch
	FlushInterval time.Duration `yaml:"flush_interval"` // max time between emits
}

// Feed samples the noise source at a fixed interval and retains the most
// recent Window samples. Older samples are discarded, not archived.
type Feed struct {
	cfg     FeedConfig
	src     *noise.Source
	emitter Emitter

	mu        sync.Mutex
	window    []Sample
	batch     []Sample
	adversary bool

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewFeed creates and starts a telemetry feed.
func NewFeed(cfg FeedConfig, src *noise.Source) (*Feed, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	if cfg.Window <= 0 {
		cfg.Window = 21
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	var emitter Emitter
	switch cfg.Sink {
	case "stdout":
		emitter = NewStdoutEmitter()
	case "file":
		var err error
		path := cfg.FilePath
		if path == "" {
			path = "/var/log/medivault/telemetry.jsonl"
		}
		emitter, err = NewFileEmitter(path)
		if err != nil {
			return nil, err
		}
	default:
		emitter = NewNopEmitter()
	}

	f := &Feed{
		cfg:     cfg,
		src:     src,
		emitter: emitter,
		window:  make([]Sample, 0, cfg.Window),
		batch:   make([]Sample, 0, cfg.BatchSize),
		closeCh: make(chan struct{}),
	}

	f.wg.Add(1)
	go f.sampleLoop()
	return f, nil
}

// SetAdversary switches the feed's noise amplitude. Driven by the same flag
// that starts an adversary-mode key exchange, so the trace widens while the
// simulated interception is on.
func (f *Feed) SetAdversary(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adversary = active
}

// AdversaryActive returns the current amplitude mode.
func (f *Feed) AdversaryActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adversary
}

// Window returns a copy of the current rolling window, oldest first.
func (f *Feed) Window() []Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sample, len(f.window))
	copy(out, f.window)
	return out
}

// Close stops sampling, flushes the pending batch, and closes the emitter.
func (f *Feed) Close() error {
	f.closeOnce.Do(func() { close(f.closeCh) })
	f.wg.Wait()
	f.flush()
	return f.emitter.Close()
}

func (f *Feed) sampleLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	flushTicker := time.NewTicker(f.cfg.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-f.closeCh:
			return
		case <-flushTicker.C:
			f.flush()
		case <-ticker.C:
			f.sample()
		}
	}
}

func (f *Feed) sample() {
	f.mu.Lock()
	amp := noise.Amplitude(f.adversary)
	s := Sample{Timestamp: time.Now(), Value: f.src.Sample(amp)}

	f.window = append(f.window, s)
	if len(f.window) > f.cfg.Window {
		f.window = f.window[len(f.window)-f.cfg.Window:]
	}

	f.batch = append(f.batch, s)
	shouldFlush := len(f.batch) >= f.cfg.BatchSize
	f.mu.Unlock()

	metrics.TelemetrySamples.Inc()
	if shouldFlush {
		f.flush()
	}
}

func (f *Feed) flush() {
	f.mu.Lock()
	if len(f.batch) == 0 {
		f.mu.Unlock()
		return
	}
	batch := f.batch
	f.batch = make([]Sample, 0, f.cfg.BatchSize)
	f.mu.Unlock()

	// Best-effort: drop the batch on error, never stall the sampler.
	if err := f.emitter.Emit(batch); err != nil {
		slog.Warn("telemetry flush failed", "count", len(batch), "error", err)
	}
}
