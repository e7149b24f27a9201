package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

// Player plays an encoded audio clip to completion
type Player interface {
	Play(ctx context.Context, clip []byte) error
}

// FFplayPlayer plays clips by piping them into ffplay
type FFplayPlayer struct {
	path   string
	logger *logger.Logger
}

// NewFFplayPlayer creates a player using the ffplay binary at path
func NewFFplayPlayer(path string, log *logger.Logger) *FFplayPlayer {
	if path == "" {
		path = "ffplay"
	}
	return &FFplayPlayer{
		path:   path,
		logger: log.Named("player"),
	}
}

// Play blocks until the clip has finished or ctx is cancelled
func (p *FFplayPlayer) Play(ctx context.Context, clip []byte) error {
	if len(clip) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, p.path,
		"-nodisp",
		"-autoexit",
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0")
	cmd.Stdin = bytes.NewReader(clip)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	p.logger.Debug("Playing clip", logger.Int("bytes", len(clip)))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to play clip: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// DecodeClip decodes base64 audio as carried in translation results
func DecodeClip(encoded string) ([]byte, error) {
	clip, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio clip: %w", err)
	}
	return clip, nil
}
