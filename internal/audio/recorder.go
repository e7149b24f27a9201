package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

// ChunkHandler receives chunks in capture order
type ChunkHandler func(Chunk)

// LostHandler is called once, from its own goroutine, when the device stream
// ends without Stop being called. The error wraps ErrDeviceUnavailable.
type LostHandler func(error)

// RecorderConfig holds segment recorder settings
type RecorderConfig struct {
	Format    Format
	TimeSlice time.Duration
	ReadSize  int       // bytes per device read; defaults to 100ms of audio
	Tap       io.Writer // optional, receives every captured frame (the level analyser)
}

// Recorder owns the capture device and cuts the stream into time-sliced chunks.
// At most one recording is active; Start on an active recorder stops the
// previous recording completely before opening the device again.
type Recorder struct {
	device Device
	config RecorderConfig
	clock  clockwork.Clock
	logger *logger.Logger

	// serializes Start and Stop
	lifecycle sync.Mutex

	mu     sync.Mutex
	active *recording
}

type recording struct {
	stream  io.ReadCloser
	buffer  *SegmentBuffer
	handler ChunkHandler
	onLost  LostHandler
	bufMu   sync.Mutex

	stopCh     chan struct{}
	lostCh     chan struct{}
	loopDone   chan struct{}
	readerDone chan struct{}
}

// NewRecorder creates a recorder on the given device
func NewRecorder(device Device, config RecorderConfig, clock clockwork.Clock, log *logger.Logger) *Recorder {
	if config.TimeSlice <= 0 {
		config.TimeSlice = time.Second
	}
	if config.ReadSize <= 0 {
		config.ReadSize = config.Format.BytesPerMs() * 100
		if config.ReadSize <= 0 {
			config.ReadSize = 3200
		}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{
		device: device,
		config: config,
		clock:  clock,
		logger: log.Named("recorder"),
	}
}

// Start opens the device and begins emitting chunks to handler. If the device
// stream fails mid-recording, slicing stops and onLost is notified; the
// remaining audio is emitted as the final chunk by the next Stop.
func (r *Recorder) Start(ctx context.Context, handler ChunkHandler, onLost LostHandler) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.isActive() {
		r.logger.Debug("Recording already active, stopping it first")
		r.stopLocked()
	}

	stream, err := r.device.Open(ctx, r.config.Format)
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		return err
	}

	rec := &recording{
		stream:     stream,
		buffer:     NewSegmentBuffer(r.config.Format),
		handler:    handler,
		onLost:     onLost,
		stopCh:     make(chan struct{}),
		lostCh:     make(chan struct{}),
		loopDone:   make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	ticker := r.clock.NewTicker(r.config.TimeSlice)

	r.mu.Lock()
	r.active = rec
	r.mu.Unlock()

	go r.readLoop(rec)
	go r.sliceLoop(rec, ticker)

	r.logger.Info("Recording started",
		logger.Duration("time_slice", r.config.TimeSlice),
		logger.Int("sample_rate", r.config.Format.SampleRate),
		logger.Int("channels", r.config.Format.Channels))
	return nil
}

func (r *Recorder) readLoop(rec *recording) {
	defer close(rec.readerDone)

	for {
		frame := make([]byte, r.config.ReadSize)
		n, err := rec.stream.Read(frame)
		if n > 0 {
			rec.bufMu.Lock()
			_, _ = rec.buffer.Write(frame[:n])
			rec.bufMu.Unlock()
			if r.config.Tap != nil {
				_, _ = r.config.Tap.Write(frame[:n])
			}
		}
		if err != nil {
			select {
			case <-rec.stopCh:
			default:
				r.deviceLost(rec, err)
			}
			return
		}
	}
}

func (r *Recorder) deviceLost(rec *recording, err error) {
	if err == io.EOF {
		r.logger.Warn("Capture stream ended")
		err = errors.New("capture stream ended")
	} else {
		r.logger.Warn("Capture stream failed", logger.Error(err))
	}
	close(rec.lostCh)

	if rec.onLost != nil {
		go rec.onLost(fmt.Errorf("%w: %v", ErrDeviceUnavailable, err))
	}
}

func (r *Recorder) sliceLoop(rec *recording, ticker clockwork.Ticker) {
	defer close(rec.loopDone)
	defer ticker.Stop()

	for {
		select {
		case <-rec.stopCh:
			return
		case <-rec.lostCh:
			return
		case <-ticker.Chan():
			select {
			case <-rec.lostCh:
				return
			default:
			}
			rec.bufMu.Lock()
			chunk := rec.buffer.Flush(false, r.clock.Now())
			rec.bufMu.Unlock()
			r.emit(rec, chunk)
		}
	}
}

func (r *Recorder) emit(rec *recording, chunk Chunk) {
	r.logger.Debug("Chunk ready",
		logger.Int("seq", chunk.Seq),
		logger.Duration("duration", chunk.Duration),
		logger.Bool("final", chunk.Final))
	if rec.handler != nil {
		rec.handler(chunk)
	}
}

// Stop ends the active recording. The partial buffer is emitted as a final
// chunk before the device is released. Stopping an idle recorder is a no-op.
func (r *Recorder) Stop() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	r.stopLocked()
}

func (r *Recorder) stopLocked() {
	r.mu.Lock()
	rec := r.active
	r.mu.Unlock()
	if rec == nil {
		return
	}

	close(rec.stopCh)
	<-rec.loopDone

	if err := rec.stream.Close(); err != nil {
		r.logger.Warn("Failed to close capture stream", logger.Error(err))
	}
	<-rec.readerDone

	rec.bufMu.Lock()
	remaining := rec.buffer.Buffered()
	chunk := rec.buffer.Flush(true, r.clock.Now())
	rec.bufMu.Unlock()
	r.emit(rec, chunk)

	r.mu.Lock()
	r.active = nil
	r.mu.Unlock()

	r.logger.Info("Recording stopped",
		logger.Int("chunks", chunk.Seq),
		logger.Duration("final_chunk", remaining))
}

func (r *Recorder) isActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Active reports whether a recording is in progress
func (r *Recorder) Active() bool {
	return r.isActive()
}
