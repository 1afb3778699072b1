package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sleepywoodpecker/serial-scope/internal/processing"
	"sleepywoodpecker/serial-scope/internal/render"
	"sleepywoodpecker/serial-scope/internal/storage"
)

const exportTimeFormat = "20060102-150405.000"

// exporter writes the frozen snapshot and the newest spectrum to disk and, when a store
// is configured, keeps the snapshot with the session.
type exporter struct {
	pipeline  *processing.Pipeline
	renderer  *render.Renderer
	store     *storage.Store
	sessionID int64
	dir       string
	logger    *zap.Logger
	now       func() time.Time
}

// Export freezes if the pipeline is live, exports, and unfreezes again. An already frozen
// pipeline stays frozen.
func (e *exporter) Export(ctx context.Context) []string {
	c := e.pipeline.Coordinator()
	if c.Freeze() {
		defer c.Unfreeze()
	}

	snap, ok := c.Snapshot()
	if !ok {
		return nil
	}

	files, err := e.export(ctx, snap)
	if err != nil {
		e.logger.Error("[export] failed to export snapshot", zap.Error(err), zap.Strings("written", files))
		return files
	}
	e.logger.Info("[export] exported snapshot", zap.Strings("files", files), zap.Int("samples", snap.Count()))
	return files
}

func (e *exporter) export(ctx context.Context, snap *processing.Snapshot) (files []string, err error) {
	if err = os.MkdirAll(e.dir, 0755); err != nil {
		return nil, fmt.Errorf("creating export dir: %w", err)
	}

	now := time.Now
	if e.now != nil {
		now = e.now
	}
	stamp := now().Format(exportTimeFormat)
	base := filepath.Join(e.dir, "snapshot-"+stamp)

	if err = writeFile(base+".csv", snap.WriteCSV); err != nil {
		return files, err
	}
	files = append(files, base+".csv")

	img, err := e.renderer.Snapshot(snap)
	if err != nil {
		return files, fmt.Errorf("rendering snapshot: %w", err)
	}
	if err = writeFile(base+".png", func(w io.Writer) error { return render.WritePNG(w, img) }); err != nil {
		return files, err
	}
	files = append(files, base+".png")

	if result, ok := e.pipeline.Spectrum(); ok {
		img, err := e.renderer.Spectrum(result)
		if err != nil {
			return files, fmt.Errorf("rendering spectrum: %w", err)
		}
		path := filepath.Join(e.dir, "spectrum-"+stamp+".png")
		if err = writeFile(path, func(w io.Writer) error { return render.WritePNG(w, img) }); err != nil {
			return files, err
		}
		files = append(files, path)
	}

	if e.store != nil {
		if _, err = e.store.SaveSnapshot(ctx, e.sessionID, snap); err != nil {
			return files, fmt.Errorf("storing snapshot: %w", err)
		}
	}
	return files, nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	if err = write(f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
