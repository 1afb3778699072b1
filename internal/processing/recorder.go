package processing

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Row is one acquired sample as it went through the pipeline.
type Row struct {
	Time     float64
	Input    byte
	Raw      float64
	Filtered float64
	Output   byte
}

// Recorder streams every acquired sample to a CSV file.
type Recorder struct {
	Filename string
	file     *os.File
	writer   *bufio.Writer
	logger   *zap.Logger
	mu       sync.Mutex
}

func NewRecorder(filename string, logger *zap.Logger) (*Recorder, error) {
	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}

	writer := bufio.NewWriter(file)
	if _, err := fmt.Fprintln(writer, "time,input,raw,filtered,output"); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write recording header: %w", err)
	}

	logger.Info("[recorder] recording samples", zap.String("outputFile", filename))
	return &Recorder{
		Filename: filename,
		file:     file,
		writer:   writer,
		logger:   logger,
	}, nil
}

func (r *Recorder) Record(rows []Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range rows {
		_, err := fmt.Fprintf(r.writer, "%.6f,%d,%.4f,%.4f,%d\n", row.Time, row.Input, row.Raw, row.Filtered, row.Output)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.writer.Flush()
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := multierr.Combine(r.writer.Flush(), r.file.Close())
	if err != nil {
		r.logger.Warn("[recorder] error closing recording", zap.Error(err), zap.String("outputFile", r.Filename))
	}
	return err
}
