// Package media performs the billable transcode. The gateway treats
// it as an external collaborator: it is handed a reference in, returns
// a reference out, and knows nothing about accounts or quotas.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrProcessing wraps any transcode failure, including timeouts.
var ErrProcessing = errors.New("media: processing failed")

// Params are the caller-supplied resize parameters.
type Params struct {
	Width  int
	Height int
}

// Processor executes one transcode.
type Processor interface {
	Execute(ctx context.Context, inputRef string, p Params) (outputRef string, err error)
}

// FFmpegProcessor shells out to ffmpeg to scale media files.
type FFmpegProcessor struct {
	binPath   string
	outputDir string
	timeout   time.Duration
}

// NewFFmpegProcessor creates a processor writing results to outputDir.
func NewFFmpegProcessor(binPath, outputDir string, timeout time.Duration) *FFmpegProcessor {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &FFmpegProcessor{binPath: binPath, outputDir: outputDir, timeout: timeout}
}

// Execute scales inputRef to the requested dimensions. The ffmpeg
// process is killed when the deadline passes and the partial output
// is removed.
func (f *FFmpegProcessor) Execute(ctx context.Context, inputRef string, p Params) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	base := strings.TrimSuffix(filepath.Base(inputRef), filepath.Ext(inputRef))
	outputRef := filepath.Join(f.outputDir,
		fmt.Sprintf("%s_%dx%d%s", base, p.Width, p.Height, filepath.Ext(inputRef)))

	cmd := exec.CommandContext(ctx, f.binPath,
		"-y",
		"-i", inputRef,
		"-vf", fmt.Sprintf("scale=%d:%d", p.Width, p.Height),
		outputRef,
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outputRef)
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: timed out after %s", ErrProcessing, f.timeout)
		}
		return "", fmt.Errorf("%w: %v: %s", ErrProcessing, err, tail(out, 300))
	}
	return outputRef, nil
}

// tail returns at most n trailing bytes of b; ffmpeg puts the useful
// diagnostics at the end of its output.
func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// StubProcessor returns a canned result or error. Used in development
// without an ffmpeg install and throughout the tests.
type StubProcessor struct {
	// Err, when set, is returned from every Execute call.
	Err error
	// Delay simulates transcode latency, honoring ctx cancellation.
	Delay time.Duration
}

func (s *StubProcessor) Execute(ctx context.Context, inputRef string, p Params) (string, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrProcessing, ctx.Err())
		}
	}
	if s.Err != nil {
		return "", s.Err
	}
	return fmt.Sprintf("%s.%dx%d", inputRef, p.Width, p.Height), nil
}
