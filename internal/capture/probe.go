package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/smazurov/framecast/internal/ffmpeg"
	"github.com/smazurov/framecast/internal/process"
)

const defaultProbeTimeout = 10 * time.Second

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
}

// Probe asks ffprobe for the size of the first video stream of d.
func Probe(ctx context.Context, ffprobeBinary string, d Descriptor) (width, height int, err error) {
	if ffprobeBinary == "" {
		ffprobeBinary = ffmpeg.DefaultFFprobeBinary
	}
	argv, err := process.Command(ffprobeBinary, ffmpeg.BuildProbeArgs(d.Path(), d.IsDevice()))
	if err != nil {
		return 0, 0, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultProbeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, 0, fmt.Errorf("%w: probe timed out: %w", ErrProbeFailure, ctx.Err())
		}
		return 0, 0, fmt.Errorf("%w: %w: %s", ErrProbeFailure, err, bytes.TrimSpace(stderr.Bytes()))
	}

	return parseProbeOutput(out)
}

func parseProbeOutput(out []byte) (int, int, error) {
	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, 0, fmt.Errorf("%w: decode ffprobe output: %w", ErrProbeFailure, err)
	}
	for _, s := range parsed.Streams {
		if s.Width > 0 && s.Height > 0 {
			return s.Width, s.Height, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: no video stream", ErrProbeFailure)
}
