package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/vibrometer"
)

const (
	StateIdle State = iota
	StateArming
	StateAwaitingTrigger
	StateTransferringChunk
	StateBlockComplete
	StateFinalizing
)

var (
	// ErrStopped is the result of a session stopped before completion.
	ErrStopped = errors.New("acquisition stopped")

	// ErrClosed is the result of a session interrupted or still queued when
	// the acquirer shut down.
	ErrClosed = errors.New("acquirer closed")
)

// State is the position of the acquisition worker in a session.
type State int32

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateArming:
		return "Arming"
	case StateAwaitingTrigger:
		return "AwaitingTrigger"
	case StateTransferringChunk:
		return "TransferringChunk"
	case StateBlockComplete:
		return "BlockComplete"
	case StateFinalizing:
		return "Finalizing"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// WithLogger sets the logger for the acquirer
func WithLogger(logger *slog.Logger) func(a *Acquirer) {
	return func(a *Acquirer) {
		a.logger = logger.With(slog.String("component", "acquisition"))
	}
}

// WithPollInterval overrides the autofocus status poll interval.
func WithPollInterval(d time.Duration) func(a *Acquirer) {
	return func(a *Acquirer) {
		a.pollInterval = d
	}
}

// Acquirer runs acquisition sessions on a dedicated worker goroutine. At
// most one session is live at a time: a session stays live until its result
// has been consumed with Wait or Discard.
type Acquirer struct {
	inst     vibrometer.Instrument
	settings *vibrometer.Settings

	start chan *Session

	mu   sync.Mutex
	live *Session

	state atomic.Int32
	block atomic.Int64

	isRunning atomic.Bool
	cancel    context.CancelCauseFunc
	ctx       context.Context
	wg        sync.WaitGroup

	pollInterval time.Duration
	logger       *slog.Logger
}

// NewAcquirer creates an Acquirer for the instrument with a discard logger.
func NewAcquirer(inst vibrometer.Instrument, options ...func(a *Acquirer)) *Acquirer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	a := Acquirer{
		inst:         inst,
		settings:     vibrometer.NewSettings(inst),
		start:        make(chan *Session, 1),
		pollInterval: AutofocusPollInterval,
		logger:       logger,
	}
	a.block.Store(-1)

	for _, option := range options {
		option(&a)
	}

	return &a
}

// Start launches the worker. It runs until ctx is cancelled or Stop is called.
func (a *Acquirer) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isRunning.CompareAndSwap(false, true) {
		return faults.InvalidState("starting: acquirer is already running")
	}

	a.ctx, a.cancel = context.WithCancelCause(ctx)

	a.wg.Add(1)
	go a.loop(a.ctx)

	return nil
}

// Stop cancels any running session and waits for the worker to exit.
func (a *Acquirer) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel == nil {
		return // never started
	}

	cancel(ErrClosed)
	a.wg.Wait()
}

// State returns the worker state and the block it is working on, -1 when
// no block is involved.
func (a *Acquirer) State() (State, int) {
	return State(a.state.Load()), int(a.block.Load())
}

// Arm validates cfg, allocates the session buffer and hands the session to
// the worker. It fails with faults.ErrInvalidState while a previous session
// is running or its result has not been consumed.
func (a *Acquirer) Arm(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isRunning.Load() || a.ctx.Err() != nil {
		return nil, faults.InvalidState("arming: acquirer is not running")
	}
	if a.live != nil {
		return nil, faults.InvalidState("arming: session %s is still live", a.live.ID)
	}

	channels, err := a.inst.ActiveChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active channels: %w", err)
	}
	freqFactor, err := a.settings.Daq.FrequencyFactor(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading sample rates: %w", err)
	}

	buf, err := Allocate(channels, cfg.BlockCount, cfg.BlockSize, freqFactor)
	if err != nil {
		return nil, err
	}

	s := newSession(a, cfg, buf)
	a.setState(StateArming, -1)

	select {
	case a.start <- s:
	default:
		a.setState(StateIdle, -1)
		s.cancel(nil)
		return nil, faults.InvalidState("arming: worker has a pending session")
	}

	a.live = s

	a.logger.Info("session armed",
		slog.String("session", s.ID.String()),
		slog.Int("blockCount", cfg.BlockCount),
		slog.Int("blockSize", cfg.BlockSize),
		slog.Int("channels", len(channels)),
		slog.String("buffer", humanize.Bytes(buf.SizeBytes())),
	)

	return s, nil
}

func (a *Acquirer) release(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.live == s {
		a.live = nil
	}
}

func (a *Acquirer) setState(state State, block int) {
	a.state.Store(int32(state))
	a.block.Store(int64(block))
}

func (a *Acquirer) loop(ctx context.Context) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return

		case s := <-a.start:
			a.run(s)
		}
	}
}

// shutdown marks the acquirer stopped and fails a session that was armed but
// never picked up. Arm holds a.mu while queueing, so nothing is queued after
// this returns.
func (a *Acquirer) shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.isRunning.Store(false)
	select {
	case s := <-a.start:
		a.setState(StateIdle, -1)
		s.finish(nil, ErrClosed)
	default:
	}

	a.logger.Info("acquisition worker stopped")
}

func (a *Acquirer) run(s *Session) {
	logger := a.logger.With(slog.String("session", s.ID.String()))
	started := time.Now()

	buf, err := a.acquire(s, logger)

	a.setState(StateFinalizing, -1)
	if stopErr := a.inst.StopAcquisition(context.WithoutCancel(s.ctx)); stopErr != nil {
		err = errors.Join(err, fmt.Errorf("stopping acquisition: %w", stopErr))
	}

	if err != nil {
		buf = nil
		logger.Error("session failed", slog.String("error", err.Error()))
	} else {
		logger.Info("session complete",
			slog.Duration("elapsed", time.Since(started)),
			slog.String("buffer", humanize.Bytes(buf.SizeBytes())),
		)
	}

	a.setState(StateIdle, -1)
	s.finish(buf, err)
}

func (a *Acquirer) acquire(s *Session, logger *slog.Logger) (*Buffer, error) {
	cfg := s.Config

	if err := a.inst.StartAcquisition(s.ctx); err != nil {
		return nil, fmt.Errorf("starting acquisition: %w", stopCause(s.ctx, err))
	}

	if cfg.AutoAutofocus {
		logger.Debug("waiting for autofocus")
		if err := a.settings.Misc.AutofocusAndWait(s.ctx, a.pollInterval, cfg.AutofocusTimeout.Duration()); err != nil {
			return nil, fmt.Errorf("autofocus: %w", stopCause(s.ctx, err))
		}
	}
	s.ready.Store(true)

	for b := range cfg.BlockCount {
		a.setState(StateAwaitingTrigger, b)
		if err := a.inst.WaitForTrigger(s.ctx, cfg.TriggerMode); err != nil {
			return nil, fmt.Errorf("block %d: waiting for trigger: %w", b, stopCause(s.ctx, err))
		}

		if err := a.transferBlock(s, b); err != nil {
			return nil, err
		}

		a.setState(StateBlockComplete, b)
		logger.Debug("block complete", slog.Int("block", b))
	}

	return s.buf, nil
}

// transferBlock reads one block chunk by chunk. Block accounting is in
// base-rate samples; each channel writes at offset * freq_factor. Stop
// requests are honoured between chunks only.
func (a *Acquirer) transferBlock(s *Session, b int) error {
	cfg := s.Config
	timeout := cfg.AcqTimeout.Duration()
	readCtx := context.WithoutCancel(s.ctx)

	for done := 0; done < cfg.BlockSize; {
		if err := context.Cause(s.ctx); err != nil {
			return fmt.Errorf("block %d at sample %d: %w", b, done, err)
		}

		a.setState(StateTransferringChunk, b)

		count := min(cfg.BlockSize-done, cfg.ChunkSize)
		if err := a.inst.ReadData(readCtx, count, timeout); err != nil {
			if errors.Is(err, vibrometer.ErrReadTimeout) {
				return fmt.Errorf("%w: block %d at sample %d: %w", faults.ErrAcquisitionTimeout, b, done, err)
			}
			return fmt.Errorf("block %d at sample %d: reading data: %w", b, done, err)
		}

		for _, cb := range s.buf.Channels() {
			if err := a.collect(cb, b, done*cb.FreqFactor); err != nil {
				return fmt.Errorf("block %d at sample %d: %w", b, done, err)
			}
		}

		done += count
	}

	return nil
}

func (a *Acquirer) collect(cb *ChannelBuffer, block, offset int) error {
	n := a.inst.ExtractedSampleCount(cb.Channel)

	samples, err := a.inst.Int32Samples(cb.Channel, n)
	if err != nil {
		return fmt.Errorf("%s: reading samples: %w", cb.Name(), err)
	}

	var flags []bool
	if cb.HasOverrange() {
		if flags, err = a.inst.OverrangeFlags(cb.Channel, n); err != nil {
			return fmt.Errorf("%s: reading overrange flags: %w", cb.Name(), err)
		}
	}

	return cb.store(block, offset, samples, flags)
}

// stopCause prefers the session stop reason over the error it caused.
func stopCause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return err
}

// Session is one armed acquisition. Its buffer is published once the worker
// finishes, and the acquirer cannot be armed again until the result has been
// consumed.
type Session struct {
	ID     uuid.UUID
	Config Config

	a      *Acquirer
	buf    *Buffer
	ctx    context.Context
	cancel context.CancelCauseFunc
	ready  atomic.Bool

	done   chan struct{}
	result *Buffer
	err    error
}

func newSession(a *Acquirer, cfg Config, buf *Buffer) *Session {
	ctx, cancel := context.WithCancelCause(a.ctx)
	return &Session{
		ID:     uuid.New(),
		Config: cfg,
		a:      a,
		buf:    buf,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Session) finish(buf *Buffer, err error) {
	s.ready.Store(false)
	s.result, s.err = buf, err
	s.buf = nil
	s.cancel(nil)
	close(s.done)
}

// Done is closed when the session result is available.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Ready reports whether autofocus is complete and data is being collected.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// Wait blocks until the session finishes and returns its buffer. The result
// is consumed and the acquirer may be armed again. Cancelling ctx abandons
// the wait without consuming the result.
func (s *Session) Wait(ctx context.Context) (*Buffer, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
	}

	s.a.release(s)
	return s.result, s.err
}

// Stop asks the worker to abandon the session after the current chunk.
func (s *Session) Stop() {
	s.cancel(ErrStopped)
}

// Discard stops the session, waits for the worker to let go of it and drops
// the result.
func (s *Session) Discard(ctx context.Context) error {
	s.Stop()
	_, err := s.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}
	return nil
}
