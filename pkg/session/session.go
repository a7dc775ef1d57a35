// Package session owns the lifecycle of the simulated BB84 key exchange.
//
// One engine instance is shared process-wide: the simulated quantum channel
// is a single physical resource, so exactly one exchange is in flight at any
// time and every observer sees the same key and QBER. The engine is the only
// writer of session state; everyone else reads immutable snapshots.
package session

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medivault/medivault/pkg/metrics"
	"github.com/medivault/medivault/pkg/noise"
)

// ErrAlreadyTransmitting is returned by Start while an exchange is in
// flight. The in-flight session is preserved; the new request is rejected
// rather than queued.
var ErrAlreadyTransmitting = errors.New("session: key exchange already in progress")

// State is the position of the current session in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateTransmitting
	StateMeasuring
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTransmitting:
		return "transmitting"
	case StateMeasuring:
		return "measuring"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of session state at a point in time. Key is
// empty and QBER zero unless State is StateComplete; the two are always set
// together.
type Snapshot struct {
	ID              string
	State           State
	Key             string
	QBER            float64
	AdversaryActive bool
	CreatedAt       time.Time
	CompletedAt     time.Time
}

// HasKey reports whether the session resolved to a usable key.
func (s Snapshot) HasKey() bool {
	return s.State == StateComplete && s.Key != ""
}

// Publisher receives every state transition the engine produces, in order.
type Publisher interface {
	Publish(Snapshot)
}

// Config tunes the simulated exchange.
type Config struct {
	TransmitDelay time.Duration // pause in the transmitting state
	MeasureDelay  time.Duration // pause in the measuring state
	KeyBits       int           // length of the sifted key bit string
}

func (c *Config) applyDefaults() {
	if c.TransmitDelay <= 0 {
		c.TransmitDelay = time.Second
	}
	if c.MeasureDelay <= 0 {
		c.MeasureDelay = 250 * time.Millisecond
	}
	if c.KeyBits <= 0 {
		c.KeyBits = 50
	}
}

// Engine runs key-exchange sessions one at a time.
type Engine struct {
	cfg Config
	src *noise.Source
	pub Publisher

	mu      sync.Mutex
	cur     Snapshot
	running bool
	wg      sync.WaitGroup
}

// timeNow is a variable for testing.
var timeNow = time.Now

// NewEngine creates an engine in the idle state.
func NewEngine(cfg Config, src *noise.Source, pub Publisher) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg: cfg,
		src: src,
		pub: pub,
	}
}

// Start begins a new exchange with the given adversary simulation flag and
// returns the new session ID. A session that is transmitting or measuring
// rejects the request with ErrAlreadyTransmitting. A completed or idle
// session is superseded immediately: its key and QBER are discarded for all
// observers.
func (e *Engine) Start(adversaryActive bool) (string, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		metrics.SessionBusyRejections.Inc()
		return "", ErrAlreadyTransmitting
	}
	if e.cur.State == StateComplete {
		metrics.SessionsSuperseded.Inc()
	}

	snap := Snapshot{
		ID:              uuid.NewString(),
		State:           StateTransmitting,
		AdversaryActive: adversaryActive,
		CreatedAt:       timeNow(),
	}
	e.cur = snap
	e.running = true
	e.wg.Add(1)
	e.pub.Publish(snap)
	e.mu.Unlock()

	if adversaryActive {
		metrics.SessionsStarted.WithLabelValues("true").Inc()
	} else {
		metrics.SessionsStarted.WithLabelValues("false").Inc()
	}

	go e.run()
	return snap.ID, nil
}

// run drives one session from transmitting to complete. No cancellation: a
// started exchange always runs to completion.
//
// Every publish happens under the mutex, the same critical section as the
// state mutation it announces. Publish order therefore matches mutation
// order exactly, and Start stays rejected until the final Complete has
// reached the hub, so a superseding session can never have its first event
// delivered ahead of the old session's last one. The hub never blocks a
// publisher, so holding the lock across Publish is bounded.
func (e *Engine) run() {
	defer e.wg.Done()

	time.Sleep(e.cfg.TransmitDelay)
	e.mu.Lock()
	e.cur.State = StateMeasuring
	e.pub.Publish(e.cur)
	e.mu.Unlock()

	time.Sleep(e.cfg.MeasureDelay)

	amp := noise.Amplitude(e.currentAdversary())
	qber := round2(noise.QBER(e.src.Sample(amp)))
	key := siftedKey(e.cfg.KeyBits)
	metrics.SessionQBER.Observe(qber)

	e.mu.Lock()
	e.cur.State = StateComplete
	e.cur.Key = key
	e.cur.QBER = qber
	e.cur.CompletedAt = timeNow()
	e.pub.Publish(e.cur)
	e.running = false
	e.mu.Unlock()
}

func (e *Engine) currentAdversary() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur.AdversaryActive
}

// Current returns a snapshot of the authoritative session state.
func (e *Engine) Current() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur
}

// Wait blocks until any in-flight exchange has completed. Used on shutdown
// and in tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// siftedKey generates the pseudo-random shared key bit string. The key is
// independent of the QBER measurement, matching the simulated protocol
// where sifting and error estimation use disjoint bit positions.
func siftedKey(bits int) string {
	var b strings.Builder
	b.Grow(bits)
	for i := 0; i < bits; i++ {
		if rand.Intn(2) == 1 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
