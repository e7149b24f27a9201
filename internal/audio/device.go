package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

// ErrDeviceUnavailable is returned when the microphone cannot be opened
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Device opens a live PCM16 stream in the requested format. Closing the
// returned stream releases the device.
type Device interface {
	Open(ctx context.Context, format Format) (io.ReadCloser, error)
}

// FFmpegConfig holds the ffmpeg capture settings
type FFmpegConfig struct {
	Path        string // ffmpeg binary
	InputFormat string // e.g. pulse, alsa, avfoundation, dshow
	InputDevice string
}

// FFmpegDevice captures the microphone by running ffmpeg and reading raw PCM from stdout
type FFmpegDevice struct {
	config FFmpegConfig
	logger *logger.Logger
}

// NewFFmpegDevice creates a capture device backed by ffmpeg
func NewFFmpegDevice(config FFmpegConfig, log *logger.Logger) *FFmpegDevice {
	if config.Path == "" {
		config.Path = "ffmpeg"
	}
	return &FFmpegDevice{
		config: config,
		logger: log.Named("ffmpeg-device"),
	}
}

func (d *FFmpegDevice) args(format Format) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", d.config.InputFormat,
		"-i", d.config.InputDevice,
		"-ac", fmt.Sprintf("%d", format.Channels),
		"-ar", fmt.Sprintf("%d", format.SampleRate),
		"-acodec", "pcm_s16le",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-f", "s16le",
		"-",
	}
}

// Open starts ffmpeg and waits for the first captured bytes. A missing binary,
// a refused device or an early exit are all reported as ErrDeviceUnavailable.
func (d *FFmpegDevice) Open(ctx context.Context, format Format) (io.ReadCloser, error) {
	cmd := exec.Command(d.config.Path, d.args(format)...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start %s: %v", ErrDeviceUnavailable, d.config.Path, err)
	}

	d.logger.Debug("Started capture process",
		logger.Int("pid", cmd.Process.Pid),
		logger.String("input_format", d.config.InputFormat),
		logger.String("input_device", d.config.InputDevice),
		logger.Int("sample_rate", format.SampleRate))

	reader := bufio.NewReaderSize(stdout, 64*1024)
	ready := make(chan error, 1)
	go func() {
		_, err := reader.Peek(1)
		ready <- err
	}()

	select {
	case err := <-ready:
		if err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, msg)
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, ctx.Err())
	}

	return &processStream{cmd: cmd, reader: reader, logger: d.logger}, nil
}

// processStream is the stdout of a running capture process
type processStream struct {
	cmd    *exec.Cmd
	reader *bufio.Reader
	logger *logger.Logger
	once   sync.Once
}

func (p *processStream) Read(b []byte) (int, error) {
	return p.reader.Read(b)
}

// Close stops the capture process and reaps it
func (p *processStream) Close() error {
	p.once.Do(func() {
		if err := p.cmd.Process.Kill(); err != nil {
			p.logger.Debug("Capture process already gone", logger.Error(err))
		}
		_ = p.cmd.Wait()
		p.logger.Debug("Stopped capture process")
	})
	return nil
}
