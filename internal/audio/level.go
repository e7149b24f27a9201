package audio

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

// Analyser exposes a byte-scaled frequency view of the live stream
type Analyser interface {
	ByteFrequencyData(dst []byte) []byte
}

// LevelConfig holds level monitor settings
type LevelConfig struct {
	Interval  time.Duration // sampling period
	Threshold float64       // level above which the input counts as speech
}

// LevelMonitor samples the analyser at a fixed interval, tracks the input
// level as 0..100 and reports when the input has been quiet for too long.
type LevelMonitor struct {
	analyser Analyser
	config   LevelConfig
	clock    clockwork.Clock
	logger   *logger.Logger

	mu             sync.Mutex
	level          float64
	lastActivity   time.Time
	silenceTimeout time.Duration
	buf            []byte
	stopCh         chan struct{}
	doneCh         chan struct{}
}

// NewLevelMonitor creates a monitor over the given analyser
func NewLevelMonitor(analyser Analyser, config LevelConfig, clock clockwork.Clock, log *logger.Logger) *LevelMonitor {
	if config.Interval <= 0 {
		config.Interval = 50 * time.Millisecond
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LevelMonitor{
		analyser: analyser,
		config:   config,
		clock:    clock,
		logger:   log.Named("level-monitor"),
	}
}

// Start begins sampling. A positive silenceTimeout arms the silence check;
// onSilence is invoked once, from its own goroutine, after which sampling ends.
// Starting a running monitor restarts it.
func (m *LevelMonitor) Start(silenceTimeout time.Duration, onSilence func()) {
	m.Stop()

	if r, ok := m.analyser.(interface{ Reset() }); ok {
		r.Reset()
	}

	m.mu.Lock()
	m.level = 0
	m.lastActivity = m.clock.Now()
	m.silenceTimeout = silenceTimeout
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	m.stopCh = stopCh
	m.doneCh = doneCh
	ticker := m.clock.NewTicker(m.config.Interval)
	m.mu.Unlock()

	m.logger.Debug("Level monitor started",
		logger.Duration("interval", m.config.Interval),
		logger.Duration("silence_timeout", silenceTimeout))

	go m.run(ticker, stopCh, doneCh, onSilence)
}

func (m *LevelMonitor) run(ticker clockwork.Ticker, stopCh, doneCh chan struct{}, onSilence func()) {
	defer close(doneCh)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.Chan():
			if _, expired := m.Sample(); expired {
				m.logger.Info("Silence timeout expired")
				if onSilence != nil {
					go onSilence()
				}
				return
			}
		}
	}
}

// Sample takes one reading. It returns the new level and whether the
// silence timeout has expired.
func (m *LevelMonitor) Sample() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buf = m.analyser.ByteFrequencyData(m.buf)
	sum := 0.0
	for _, v := range m.buf {
		sum += float64(v)
	}
	level := 0.0
	if len(m.buf) > 0 {
		level = sum / float64(len(m.buf))
	}
	if level > 100 {
		level = 100
	}
	m.level = level

	now := m.clock.Now()
	if level > m.config.Threshold {
		m.lastActivity = now
		return level, false
	}
	expired := m.silenceTimeout > 0 && now.Sub(m.lastActivity) > m.silenceTimeout
	return level, expired
}

// Stop ends sampling and resets the level. Stopping an idle monitor is a no-op.
func (m *LevelMonitor) Stop() {
	m.mu.Lock()
	stopCh, doneCh := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}

	// after the sampler has exited so a pending tick cannot write it back
	m.mu.Lock()
	m.level = 0
	m.mu.Unlock()

	if stopCh != nil {
		m.logger.Debug("Level monitor stopped")
	}
}

// Level returns the most recent level in 0..100
func (m *LevelMonitor) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// LastActivity returns when the level last exceeded the threshold
func (m *LevelMonitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}
