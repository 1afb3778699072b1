package processing

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

const SamplingChannelName = "serialscope"

type StatusSource interface {
	Status() Status
}

// Sampler periodically reports the pipeline status as an Influx line to a telegraf socket.
type Sampler struct {
	samplingFrequency time.Duration
	conn              io.Writer
	source            StatusSource
	logger            *zap.Logger
	now               func() time.Time
}

func NewSampler(samplingFrequency time.Duration, conn io.Writer, source StatusSource, logger *zap.Logger) *Sampler {
	return &Sampler{
		samplingFrequency: samplingFrequency,
		conn:              conn,
		source:            source,
		logger:            logger,
		now:               time.Now,
	}
}

func (s *Sampler) FormatStatus(status Status) string {
	var b strings.Builder
	b.WriteString(SamplingChannelName)
	fmt.Fprintf(&b, " time=%.6f,raw=%.4f,filtered=%.4f,frequency=%.2f,offset=%.4f,samples=%di,frozen=%t",
		status.Time, status.Raw, status.Filtered, status.Frequency, status.Offset, status.Samples, status.Frozen)
	fmt.Fprintf(&b, " %d\n", s.now().UnixNano())
	return b.String()
}

func (s *Sampler) SampleAndLog() {
	line := s.FormatStatus(s.source.Status())

	if err := s.sendToConn(line); err != nil {
		s.logger.Warn("[sampler] Error writing data to UDP connection", zap.Error(err))
	} else {
		s.logger.Debug("[sampler] collected sample", zap.String("influxString", line))
	}
}

func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.samplingFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("[sampler] received shutdown signal")
			return
		case <-ticker.C:
			s.SampleAndLog()
		}
	}
}

func (s *Sampler) sendToConn(formattedData string) error {
	payload := []byte(formattedData)
	totalWritten := 0
	for totalWritten < len(payload) {
		n, err := s.conn.Write(payload[totalWritten:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		totalWritten += n
	}

	return nil
}
