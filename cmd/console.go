package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/term"

	"sleepywoodpecker/serial-scope/internal/filter"
	"sleepywoodpecker/serial-scope/internal/processing"
)

const statusRefresh = 200 * time.Millisecond

var errNotTerminal = errors.New("interactive mode needs a terminal on stdin")

// console reads single keys from a raw mode terminal and redraws a status line.
type console struct {
	pipeline *processing.Pipeline
	exporter *exporter
	logger   *zap.Logger
	in       io.Reader
	out      io.Writer

	fd    int
	state *term.State
}

func newConsole(pipeline *processing.Pipeline, exp *exporter, logger *zap.Logger) (*console, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errNotTerminal
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("switching terminal to raw mode: %w", err)
	}

	c := &console{
		pipeline: pipeline,
		exporter: exp,
		logger:   logger,
		in:       os.Stdin,
		out:      os.Stdout,
		fd:       fd,
		state:    state,
	}
	c.println("f freeze/unfreeze, e export, n/l/h no/low/high pass filter, q quit")
	return c, nil
}

// Run returns a channel that is closed when the user quits.
func (c *console) Run(ctx context.Context) <-chan struct{} {
	quit := make(chan struct{})
	keys := make(chan byte)

	go c.readKeys(ctx, keys, quit)

	go func() {
		ticker := time.NewTicker(statusRefresh)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case k := <-keys:
				if c.handleKey(ctx, k) {
					close(quit)
					return
				}
			case <-ticker.C:
				c.frame()
			}
		}
	}()

	return quit
}

// readKeys forwards single bytes from the terminal until reading fails or the console stops.
func (c *console) readKeys(ctx context.Context, keys chan<- byte, quit <-chan struct{}) {
	buf := make([]byte, 1)
	for {
		n, err := c.in.Read(buf)
		if err != nil {
			c.logger.Warn("[console] stopped reading keys", zap.Error(err))
			return
		}
		if n == 0 {
			continue
		}
		select {
		case keys <- buf[0]:
		case <-ctx.Done():
			return
		case <-quit:
			return
		}
	}
}

// handleKey reacts to one key press and reports whether the user asked to quit.
func (c *console) handleKey(ctx context.Context, k byte) bool {
	switch k {
	case 'q', 'Q', 3, 4: // ctrl-c and ctrl-d arrive as bytes in raw mode
		c.println("quitting")
		return true
	case 'f', 'F':
		if c.pipeline.Coordinator().Toggle() {
			c.println("frozen")
		} else {
			c.println("live")
		}
	case 'n', 'l', 'h':
		c.switchFilter(filterKeys[k])
	case 'e', 'E':
		files := c.exporter.Export(ctx)
		if len(files) == 0 {
			c.println("nothing exported")
		}
		for _, f := range files {
			c.println("wrote " + f)
		}
	}
	return false
}

var filterKeys = map[byte]filter.Kind{
	'n': filter.KindNone,
	'l': filter.KindLowPass,
	'h': filter.KindHighPass,
}

func (c *console) switchFilter(kind filter.Kind) {
	rate := float64(c.pipeline.Settings().SamplingRate)
	flt, err := filter.New(filter.Options{Kind: kind}, rate, c.logger)
	if err != nil {
		c.logger.Warn("[console] could not switch filter", zap.Error(err), zap.String("kind", string(kind)))
		c.println("filter error: " + err.Error())
		return
	}
	c.pipeline.SetFilter(flt)

	msg := "filter " + string(kind)
	if bw, ok := flt.(*filter.Butterworth); ok {
		msg += " at " + humanize.SIWithDigits(bw.Cutoff(), 0, "Hz")
	}
	c.println(msg)
}

// frame asks for a fresh spectrum while live and redraws the status line.
func (c *console) frame() {
	if !c.pipeline.Coordinator().IsFrozen() {
		c.pipeline.NotifyAnalysis()
	}
	c.draw()
}

func (c *console) draw() {
	fmt.Fprint(c.out, "\r\x1b[K"+statusLine(c.pipeline.Status()))
}

func (c *console) println(msg string) {
	fmt.Fprint(c.out, "\r\x1b[K"+msg+"\r\n")
}

func statusLine(s processing.Status) string {
	mode := "LIVE"
	if s.Frozen {
		mode = "FROZEN"
	}
	return fmt.Sprintf("[%s] t=%s  f=%s  offset=%s  samples=%s",
		mode,
		humanize.SIWithDigits(s.Time, 2, "s"),
		humanize.SIWithDigits(s.Frequency, 2, "Hz"),
		humanize.SIWithDigits(s.Offset, 3, "V"),
		humanize.Comma(int64(s.Samples)),
	)
}

func (c *console) Close() error {
	fmt.Fprint(c.out, "\r\n")
	if c.state == nil {
		return nil
	}
	return term.Restore(c.fd, c.state)
}
