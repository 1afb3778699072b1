package processing

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// NotifyAnalysis asks for one spectrum computation. Calls while one is pending are merged.
func (p *Pipeline) NotifyAnalysis() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// analyze waits for a notification (or its own ticker with AutoNotify), computes the spectrum
// of the newest live raw samples and then holds off for AnalysisInterval. Frozen cycles are
// skipped so a spectrum never mixes frozen and live data.
func (p *Pipeline) analyze(ctx context.Context) {
	defer p.wg.Done()

	var tick <-chan time.Time
	if p.settings.AutoNotify {
		ticker := time.NewTicker(p.settings.AnalysisInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("[analysis] exiting analysis loop")
			return
		case <-p.notify:
		case <-tick:
		}

		if p.stopping.Load() {
			return
		}
		if p.coordinator.IsFrozen() {
			continue
		}
		if !p.computeSpectrum(ctx) {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.settings.AnalysisInterval):
		}
	}
}

// computeSpectrum runs one analysis over the newest AnalysisWindow raw samples.
// The copy out takes the windows lock, so the analyzer never reads a window that is being pushed to.
func (p *Pipeline) computeSpectrum(ctx context.Context) bool {
	var at float64
	var data []float64

	p.windows.mu.Lock()
	count := p.windows.raw.Count()
	if count > 0 {
		data = p.windows.raw.Tail(min(count, p.analyzer.WindowLength()))
		at, _ = p.windows.latest()
	}
	p.windows.mu.Unlock()

	if len(data) == 0 {
		return false
	}

	p.analyzer.SetData(data)
	p.analyzer.Compute()
	result := p.analyzer.Result(float64(p.settings.SamplingRate))

	p.spectrumLock.Lock()
	p.latest, p.hasSpectrum = result, true
	p.spectrumLock.Unlock()

	p.logger.Debug("[analysis] computed spectrum",
		zap.Int("samples", len(data)),
		zap.Float64("frequency", result.Frequency),
		zap.Float64("offset", result.Offset),
	)

	if p.sink != nil {
		if err := p.sink.RecordSpectrum(ctx, at, result); err != nil {
			p.logger.Warn("[analysis] error storing spectrum", zap.Error(err))
		}
	}
	return true
}
