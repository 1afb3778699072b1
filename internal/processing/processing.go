package processing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sleepywoodpecker/serial-scope/internal/filter"
	"sleepywoodpecker/serial-scope/internal/spectrum"
)

const (
	DefaultReadChunk        = 64
	DefaultAnalysisInterval = 100 * time.Millisecond
)

var (
	ErrAlreadyRunning  = errors.New("processing: pipeline already running")
	ErrInvalidSettings = errors.New("processing: invalid settings")
)

// Transport is the device side of the pipeline. Read blocks for at most its read timeout
// and returns 0, nil when nothing arrived.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Available() int
	Close() error
}

// Dialer opens the transport when the pipeline starts.
type Dialer func() (Transport, error)

// SpectrumSink receives every computed spectrum together with the time index it was taken at.
type SpectrumSink interface {
	RecordSpectrum(ctx context.Context, at float64, result spectrum.Result) error
}

type Settings struct {
	SamplingRate       int
	MaxRetainedSeconds int
	VisibleSeconds     float64
	ReadChunk          int
	AnalysisWindow     int
	AnalysisInterval   time.Duration
	// AutoNotify makes the analysis loop tick on its own instead of waiting for NotifyAnalysis.
	AutoNotify bool
	Mapper     Mapper
}

type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

type Status struct {
	Reading
	Frequency float64
	Offset    float64
	Frozen    bool
	State     State
}

type Option func(*Pipeline)

func WithSpectrumSink(sink SpectrumSink) Option {
	return func(p *Pipeline) {
		p.sink = sink
	}
}

func WithRecorder(r *Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// Pipeline reads device bytes, maps and filters them into the scroll windows and writes the
// filtered signal back. A second goroutine computes the spectrum of the newest raw window.
type Pipeline struct {
	settings Settings
	dial     Dialer
	logger   *zap.Logger

	windows     *Windows
	coordinator *Coordinator
	store       SampleStore
	analyzer    *spectrum.Analyzer
	sink        SpectrumSink
	recorder    *Recorder

	// flt, nextIndex and total are guarded by windows.mu
	flt       filter.Filter
	nextIndex uint64
	total     uint64

	transport Transport
	readBuf   []byte
	writeBuf  []byte
	rows      []Row

	lifecycle sync.Mutex
	state     atomic.Int32
	stopping  atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	notify    chan struct{}
	failures  chan error
	startTime time.Time

	spectrumLock sync.RWMutex
	latest       spectrum.Result
	hasSpectrum  bool
}

func NewPipeline(settings Settings, dial Dialer, flt filter.Filter, logger *zap.Logger, opts ...Option) (*Pipeline, error) {
	if settings.SamplingRate <= 0 || settings.MaxRetainedSeconds <= 0 || settings.VisibleSeconds <= 0 {
		return nil, fmt.Errorf("%w: rate=%d retained=%ds visible=%gs", ErrInvalidSettings,
			settings.SamplingRate, settings.MaxRetainedSeconds, settings.VisibleSeconds)
	}
	if settings.Mapper.Minimum == settings.Mapper.Maximum {
		return nil, ErrInvalidMapping
	}
	if settings.ReadChunk <= 0 {
		settings.ReadChunk = DefaultReadChunk
	}
	if settings.AnalysisWindow == 0 {
		settings.AnalysisWindow = settings.SamplingRate
	}
	if settings.AnalysisInterval <= 0 {
		settings.AnalysisInterval = DefaultAnalysisInterval
	}
	if flt == nil {
		flt = filter.Passthrough{}
	}

	capacity := settings.SamplingRate * settings.MaxRetainedSeconds
	view := int(float64(settings.SamplingRate) * settings.VisibleSeconds)
	windows, err := newWindows(capacity, view)
	if err != nil {
		return nil, fmt.Errorf("creating windows: %w", err)
	}

	analyzer, err := spectrum.New(settings.AnalysisWindow)
	if err != nil {
		return nil, fmt.Errorf("creating analyzer: %w", err)
	}

	p := &Pipeline{
		settings:    settings,
		dial:        dial,
		logger:      logger,
		windows:     windows,
		coordinator: newCoordinator(windows, settings.VisibleSeconds),
		analyzer:    analyzer,
		flt:         flt,
		readBuf:     make([]byte, settings.ReadChunk),
		writeBuf:    make([]byte, settings.ReadChunk),
		notify:      make(chan struct{}, 1),
		failures:    make(chan error, 1),
	}
	for _, opt := range opts {
		opt(p)
	}

	logger.Info("[pipeline] created",
		zap.Int("samplingRate", settings.SamplingRate),
		zap.String("retainedSamples", humanize.Comma(int64(capacity))),
		zap.String("visibleSamples", humanize.Comma(int64(view))),
		zap.Int("analysisWindow", settings.AnalysisWindow),
	)
	return p, nil
}

// Start resets the windows and the filter, opens the transport and launches the acquisition
// and analysis goroutines. A transport that fails to open leaves the pipeline stopped.
func (p *Pipeline) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.State() == Running {
		return ErrAlreadyRunning
	}

	p.coordinator.Unfreeze()
	p.windows.clear()

	p.windows.mu.Lock()
	p.flt.Reset()
	p.nextIndex = 0
	p.total = 0
	p.windows.mu.Unlock()

	p.store.Update(Reading{})
	p.spectrumLock.Lock()
	p.latest, p.hasSpectrum = spectrum.Result{}, false
	p.spectrumLock.Unlock()

	// drop a failure or wakeup left over from a previous run
	select {
	case <-p.failures:
	default:
	}
	select {
	case <-p.notify:
	default:
	}

	transport, err := p.dial()
	if err != nil {
		p.logger.Error("[pipeline] failed to open transport", zap.Error(err))
		return fmt.Errorf("open transport: %w", err)
	}
	p.transport = transport

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stopping.Store(false)
	p.state.Store(int32(Running))
	p.startTime = time.Now()

	p.wg.Add(2)
	go p.acquire(runCtx)
	go p.analyze(runCtx)

	p.logger.Info("[pipeline] started", zap.Time("startTime", p.startTime))
	return nil
}

// Stop ends both goroutines, waits for them and closes the transport. Stopping a stopped
// pipeline does nothing.
func (p *Pipeline) Stop() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.State() != Running {
		return nil
	}

	p.stopping.Store(true)
	p.cancel()
	p.NotifyAnalysis()
	p.wg.Wait()

	err := p.transport.Close()
	if p.recorder != nil {
		err = multierr.Append(err, p.recorder.Flush())
	}
	p.transport = nil
	p.state.Store(int32(Stopped))

	p.logger.Info("[pipeline] stopped",
		zap.Duration("uptime", time.Since(p.startTime)),
		zap.String("samples", humanize.Comma(int64(p.Status().Samples))),
		zap.Error(err),
	)
	return err
}

func (p *Pipeline) acquire(ctx context.Context) {
	defer p.wg.Done()

	for !p.stopping.Load() {
		select {
		case <-ctx.Done():
			p.logger.Info("[pipeline] exiting acquisition loop")
			return
		default:
		}

		want := min(max(p.transport.Available(), 1), len(p.readBuf))
		n, err := p.transport.Read(p.readBuf[:want])
		if err != nil {
			p.fail(fmt.Errorf("read from transport: %w", err))
			return
		}
		if n == 0 {
			continue
		}

		out := p.ingest(p.readBuf[:n], p.writeBuf[:n])

		if _, err := p.transport.Write(out); err != nil {
			p.fail(fmt.Errorf("write to transport: %w", err))
			return
		}
	}
}

// Ingest runs one acquisition iteration over raw and returns the bytes to write back.
// It is what the acquisition goroutine does per read and is exported for callers that
// drive the pipeline themselves; it must not run concurrently with a started pipeline.
func (p *Pipeline) Ingest(raw []byte) []byte {
	return p.ingest(raw, make([]byte, len(raw)))
}

func (p *Pipeline) ingest(raw, out []byte) []byte {
	rate := float64(p.settings.SamplingRate)
	mapper := p.settings.Mapper
	if p.recorder != nil {
		p.rows = p.rows[:0]
	}

	p.windows.mu.Lock()
	var reading Reading
	for i, b := range raw {
		t := float64(p.nextIndex) / rate
		sample := mapper.Transform(b)
		filtered := p.flt.Apply(sample)
		p.windows.push(t, sample, filtered)
		p.nextIndex++

		out[i] = mapper.Output(filtered)
		reading = Reading{Time: t, Raw: sample, Filtered: filtered}
		if p.recorder != nil {
			p.rows = append(p.rows, Row{Time: t, Input: b, Raw: sample, Filtered: filtered, Output: out[i]})
		}
	}
	p.total += uint64(len(raw))
	reading.Samples = p.total
	p.windows.mu.Unlock()

	if len(raw) > 0 {
		p.store.Update(reading)
	}
	if p.recorder != nil && len(p.rows) > 0 {
		if err := p.recorder.Record(p.rows); err != nil {
			p.logger.Warn("[pipeline] error recording samples", zap.Error(err))
		}
	}
	return out
}

func (p *Pipeline) fail(err error) {
	p.logger.Error("[pipeline] acquisition failed", zap.Error(err))
	select {
	case p.failures <- err:
	default:
	}
}

// Failures delivers a fatal acquisition error. After one arrives the owner has to call Stop.
func (p *Pipeline) Failures() <-chan error {
	return p.failures
}

// SetFilter swaps the filter between two acquisition iterations and resets it.
func (p *Pipeline) SetFilter(f filter.Filter) {
	if f == nil {
		f = filter.Passthrough{}
	}

	p.windows.mu.Lock()
	defer p.windows.mu.Unlock()

	f.Reset()
	p.flt = f
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) Settings() Settings {
	return p.settings
}

func (p *Pipeline) Windows() *Windows {
	return p.windows
}

func (p *Pipeline) Coordinator() *Coordinator {
	return p.coordinator
}

// Spectrum returns the newest computed spectrum, false if none was computed yet.
func (p *Pipeline) Spectrum() (spectrum.Result, bool) {
	p.spectrumLock.RLock()
	defer p.spectrumLock.RUnlock()

	return p.latest, p.hasSpectrum
}

func (p *Pipeline) Status() Status {
	s := Status{
		Reading: p.store.Get(),
		Frozen:  p.coordinator.IsFrozen(),
		State:   p.State(),
	}
	if r, ok := p.Spectrum(); ok {
		s.Frequency = r.Frequency
		s.Offset = r.Offset
	}
	return s
}
