package audio

import (
	"bytes"
	"fmt"
	"time"
)

// bytesPerSample is fixed: capture always produces PCM16
const bytesPerSample = 2

// Format describes the PCM stream delivered by a capture device
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerMs returns how many PCM bytes one millisecond of audio occupies
func (f Format) BytesPerMs() int {
	return (f.SampleRate * f.Channels * bytesPerSample) / 1000
}

// Duration converts a PCM byte count to playback time
func (f Format) Duration(n int) time.Duration {
	perSecond := f.SampleRate * f.Channels * bytesPerSample
	if perSecond == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(perSecond)
}

// Chunk is one finalized slice of recorded audio. Data holds a complete WAV
// file; the chunk is never modified after it is emitted.
type Chunk struct {
	Seq        int
	Data       []byte
	Format     string
	SampleRate int
	Channels   int
	Duration   time.Duration
	Final      bool
	CreatedAt  time.Time
}

// SegmentBuffer accumulates raw PCM between time-slice boundaries
type SegmentBuffer struct {
	format Format
	buffer *bytes.Buffer
	seq    int
}

// NewSegmentBuffer creates an empty buffer for the given format
func NewSegmentBuffer(format Format) *SegmentBuffer {
	return &SegmentBuffer{
		format: format,
		buffer: bytes.NewBuffer(nil),
	}
}

// Write appends PCM data. Odd trailing bytes are kept until the next write
// completes the sample.
func (s *SegmentBuffer) Write(p []byte) (int, error) {
	n, err := s.buffer.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to write to segment buffer: %w", err)
	}
	return n, nil
}

// Buffered returns the playback time currently held
func (s *SegmentBuffer) Buffered() time.Duration {
	return s.format.Duration(s.buffer.Len())
}

// Flush drains the buffer into a WAV chunk. An empty buffer still produces a
// chunk with a header and no samples, so every boundary yields exactly one chunk.
func (s *SegmentBuffer) Flush(final bool, now time.Time) Chunk {
	// Only whole samples leave the buffer
	frameBytes := bytesPerSample * s.format.Channels
	n := s.buffer.Len()
	if frameBytes > 0 {
		n -= n % frameBytes
	}
	pcm := make([]byte, n)
	copy(pcm, s.buffer.Next(n))
	if final {
		s.buffer.Reset()
	}

	s.seq++
	return Chunk{
		Seq:        s.seq,
		Data:       EncodeWAV(pcm, s.format),
		Format:     "wav",
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		Duration:   s.format.Duration(len(pcm)),
		Final:      final,
		CreatedAt:  now,
	}
}
