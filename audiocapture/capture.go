// Package audiocapture provides microphone capture as fixed-size PCM16 frames.
package audiocapture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// ErrAlreadyOpen is returned when Open is called on an open source.
var ErrAlreadyOpen = errors.New("audiocapture: already open")

// Frame is one fixed-duration chunk of mono little-endian PCM16 audio.
type Frame struct {
	Data     []byte
	Seq      uint64
	Captured time.Time
}

// Source produces a stream of fixed-size audio frames while open.
// Implementations must never buffer unbounded audio and Close must be
// idempotent and safe on an errored stream.
type Source interface {
	// Open starts capture and returns the frame channel. The channel is
	// closed when the source stops, whether by Close or by a device error.
	Open() (<-chan Frame, error)
	// Close releases the capture device. Safe to call more than once.
	Close() error
	SampleRate() int
}

// Config holds capture parameters.
type Config struct {
	SampleRate int // Hz, default 16000
	FrameMs    int // frame duration, default 100ms
	// Depth bounds the frame channel; when the consumer lags, new frames
	// are counted as dropped instead of blocking the device callback.
	Depth int
}

// Capture is the malgo-backed Source.
type Capture struct {
	cfg Config

	mu     sync.Mutex
	open   bool
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	frames chan Frame
	asm    *frameAssembler

	// dropped is advanced from the device callback, which runs off mu.
	dropped atomic.Uint64
}

// New creates an unopened capture source.
func New(cfg Config) *Capture {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameMs == 0 {
		cfg.FrameMs = 100
	}
	if cfg.Depth == 0 {
		cfg.Depth = 8
	}
	return &Capture{cfg: cfg}
}

// SampleRate returns the configured sample rate.
func (c *Capture) SampleRate() int {
	return c.cfg.SampleRate
}

// Open initializes the default capture device and starts streaming frames.
func (c *Capture) Open() (<-chan Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return nil, ErrAlreadyOpen
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	frameBytes := c.cfg.SampleRate * c.cfg.FrameMs / 1000 * 2 // mono s16
	frames := make(chan Frame, c.cfg.Depth)
	asm := newFrameAssembler(frameBytes)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(c.cfg.SampleRate)

	onData := func(_, input []byte, _ uint32) {
		for _, frame := range asm.push(input) {
			select {
			case frames <- frame:
			default:
				c.noteDrop()
			}
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	c.ctx = mctx
	c.device = device
	c.frames = frames
	c.asm = asm
	c.open = true
	return frames, nil
}

// Close stops the device and closes the frame channel. Idempotent.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}
	c.open = false

	c.device.Uninit()
	c.device = nil
	if err := c.ctx.Uninit(); err != nil {
		slog.Warn("uninit audio context", "error", err)
	}
	c.ctx.Free()
	c.ctx = nil

	close(c.frames)
	if n := c.dropped.Load(); n > 0 {
		slog.Warn("capture frames dropped", "count", n)
	}
	return nil
}

func (c *Capture) noteDrop() {
	c.dropped.Add(1)
}

// frameAssembler slices an arbitrary byte stream into fixed-size frames.
type frameAssembler struct {
	size    int
	pending []byte
	seq     uint64
}

func newFrameAssembler(size int) *frameAssembler {
	return &frameAssembler{size: size, pending: make([]byte, 0, size)}
}

// push appends input and returns every completed frame.
func (a *frameAssembler) push(input []byte) []Frame {
	a.pending = append(a.pending, input...)

	var out []Frame
	now := time.Now()
	for len(a.pending) >= a.size {
		data := make([]byte, a.size)
		copy(data, a.pending[:a.size])
		a.pending = a.pending[a.size:]

		a.seq++
		out = append(out, Frame{Data: data, Seq: a.seq, Captured: now})
	}
	return out
}
