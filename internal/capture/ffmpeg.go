package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/yegors/clara/pkg/logger"
)

// FFmpegConfig describes the local input ffmpeg captures from
type FFmpegConfig struct {
	FFmpegPath   string
	InputFormat  string // -f value: pulse, alsa, avfoundation, dshow
	InputDevice  string // -i value
	SampleRate   int
	FrameSamples int
}

// FFmpegSource captures the local microphone through an ffmpeg subprocess
// that writes mono f32le PCM to stdout
type FFmpegSource struct {
	cfg     FFmpegConfig
	arbiter *Arbiter
	logger  *logger.Logger

	lookPath func(string) (string, error)
}

// NewFFmpegSource creates an ffmpeg-backed source
func NewFFmpegSource(cfg FFmpegConfig, arbiter *Arbiter, log *logger.Logger) *FFmpegSource {
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = 4096
	}
	return &FFmpegSource{
		cfg:      cfg,
		arbiter:  arbiter,
		logger:   log.Named("ffmpeg-capture"),
		lookPath: exec.LookPath,
	}
}

func (s *FFmpegSource) deviceID() string {
	return "ffmpeg/" + s.cfg.InputFormat + "/" + s.cfg.InputDevice
}

// args builds the ffmpeg command line
func (s *FFmpegSource) args() []string {
	return []string{
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-f", s.cfg.InputFormat,
		"-i", s.cfg.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(s.cfg.SampleRate),
		"-f", "f32le",
		"-flush_packets", "1",
		"pipe:1",
	}
}

// Acquire starts ffmpeg on the configured input. Only one owner may hold the
// input at a time.
func (s *FFmpegSource) Acquire(ctx context.Context, owner string) (Device, error) {
	path, err := s.lookPath(s.cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found: %v", ErrDeviceUnavailable, err)
	}

	id := s.deviceID()
	if err := s.arbiter.Claim(id, owner); err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, path, s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		s.arbiter.Release(id, owner)
		return nil, fmt.Errorf("%w: failed to get ffmpeg stdout: %v", ErrDeviceUnavailable, err)
	}

	s.logger.Info("Starting ffmpeg capture",
		logger.String("owner", owner),
		logger.String("format", s.cfg.InputFormat),
		logger.String("device", s.cfg.InputDevice),
		logger.Int("sample_rate", s.cfg.SampleRate))

	if err := cmd.Start(); err != nil {
		cancel()
		s.arbiter.Release(id, owner)
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", ErrDeviceUnavailable, err)
	}

	dev := &ffmpegDevice{
		id:     id,
		rate:   s.cfg.SampleRate,
		cmd:    cmd,
		stdout: stdout,
		cancel: cancel,
		buf:    make([]byte, s.cfg.FrameSamples*4),
		logger: s.logger.With(logger.String("owner", owner)),
	}
	return withClaim(dev, s.arbiter, owner), nil
}

type ffmpegDevice struct {
	id     string
	rate   int
	cmd    *exec.Cmd
	stdout io.ReadCloser
	cancel context.CancelFunc
	buf    []byte
	logger *logger.Logger

	mu      sync.Mutex
	stopped bool
}

func (d *ffmpegDevice) ID() string      { return d.id }
func (d *ffmpegDevice) SampleRate() int { return d.rate }

// ReadSamples reads one full frame of f32le samples from ffmpeg. Close kills
// the process, which unblocks a pending read.
func (d *ffmpegDevice) ReadSamples(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, err := io.ReadFull(d.stdout, d.buf)
	if err != nil {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if stopped {
			return nil, io.EOF
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: ffmpeg exited", ErrDeviceUnavailable)
		}
		return nil, err
	}
	return DecodeFloat32LE(d.buf), nil
}

func (d *ffmpegDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil
	}
	d.stopped = true

	d.logger.Info("Stopping ffmpeg capture")
	d.cancel()
	d.stdout.Close()
	if err := d.cmd.Wait(); err != nil {
		d.logger.Debug("ffmpeg exited", logger.Error(err))
	}
	return nil
}
