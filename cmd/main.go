package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sleepywoodpecker/serial-scope/internal/config"
	"sleepywoodpecker/serial-scope/internal/device"
	"sleepywoodpecker/serial-scope/internal/filter"
	"sleepywoodpecker/serial-scope/internal/logger"
	"sleepywoodpecker/serial-scope/internal/processing"
	"sleepywoodpecker/serial-scope/internal/render"
	rserial "sleepywoodpecker/serial-scope/internal/rSerial"
	"sleepywoodpecker/serial-scope/internal/storage"
)

func main() {
	configPath := flag.String("c", "", "path to the YAML config file")
	port := flag.String("port", "", "serial port, overrides the config")
	simulate := flag.Bool("simulate", false, "use the simulated device instead of a serial port")
	interactive := flag.Bool("interactive", false, "show a status line and read keys from the terminal")
	list := flag.Bool("list", false, "list serial ports and exit")
	flag.Parse()

	if *list {
		ports, err := rserial.ListPorts()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if !*simulate && cfg.Serial.Port == "" {
		fmt.Fprintln(os.Stderr, "no serial port configured, pass -port, -simulate or -list")
		os.Exit(2)
	}

	if err := run(cfg, *simulate, *interactive); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, simulate, interactive bool) (err error) {
	// context handler for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, append([]os.Signal{os.Interrupt, syscall.SIGTERM}, exportSignals...)...)

	// first initialize the main logger
	logOpts := []logger.Option{logger.WithLevel(cfg.Logging.Level)}
	if cfg.Logging.Console && !interactive {
		logOpts = append(logOpts, logger.WithConsole())
	}
	log, err := logger.NewLogger(cfg.Logging.File, logOpts...)
	if err != nil {
		return err
	}
	defer log.Sync()

	rate := cfg.Acquisition.SamplingRate
	if !cfg.IsPreset() {
		log.Warn("[main] sampling rate is not a firmware preset", zap.Int("samplingRate", rate))
	}

	settings, err := cfg.PipelineSettings()
	if err != nil {
		return err
	}

	flt, err := filter.New(cfg.Filter, float64(rate), log)
	if err != nil {
		return fmt.Errorf("creating filter: %w", err)
	}
	if lf, ok := flt.(*filter.LuaFilter); ok {
		defer lf.Close()
	}

	dial, source, err := dialer(cfg, simulate, log)
	if err != nil {
		return err
	}

	var opts []processing.Option

	var (
		store     *storage.Store
		sessionID int64
	)
	if cfg.Storage.Enabled {
		store = storage.New(cfg.Storage.Path)
		defer func() {
			err = multierr.Append(err, store.Close())
		}()

		if sessionID, err = store.CreateSession(ctx, source, rate, cfg); err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		opts = append(opts, processing.WithSpectrumSink(store.Sink(sessionID)))
		log.Info("[main] recording session", zap.Int64("sessionID", sessionID), zap.String("path", cfg.Storage.Path))
	}

	if cfg.Recording.CSVPath != "" {
		recorder, recErr := processing.NewRecorder(cfg.Recording.CSVPath, log)
		if recErr != nil {
			return recErr
		}
		// the pipeline only flushes it on stop
		defer func() {
			err = multierr.Append(err, recorder.Close())
		}()
		opts = append(opts, processing.WithRecorder(recorder))
	}

	pipeline, err := processing.NewPipeline(settings, dial, flt, log, opts...)
	if err != nil {
		return err
	}

	renderer, err := render.NewRenderer(render.Config{})
	if err != nil {
		return err
	}
	exp := &exporter{
		pipeline:  pipeline,
		renderer:  renderer,
		store:     store,
		sessionID: sessionID,
		dir:       cfg.Export.Dir,
		logger:    log,
	}

	if err := pipeline.Start(ctx); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, pipeline.Stop())
	}()

	// initialize UDP connection to telegraf
	if cfg.Telemetry.Enabled {
		udpAddr, err := net.ResolveUDPAddr("udp", cfg.Telemetry.Addr)
		if err != nil {
			return err
		}

		udpConn, err := net.DialUDP("udp", nil, udpAddr)
		if err != nil {
			return err
		}
		defer udpConn.Close()

		sampler := processing.NewSampler(cfg.TelemetryInterval(), udpConn, pipeline, log)
		go sampler.Run(ctx)
	}

	var quit <-chan struct{}
	if interactive {
		c, err := newConsole(pipeline, exp, log)
		if err != nil {
			return err
		}
		defer c.Close()
		quit = c.Run(ctx)
	}

	for {
		select {
		case sig := <-sigCh:
			if isExportSignal(sig) {
				exp.Export(ctx)
				continue
			}
			log.Info("[main] received signal, shutting down", zap.String("signal", sig.String()))
			return nil
		case err := <-pipeline.Failures():
			return fmt.Errorf("acquisition stopped: %w", err)
		case <-quit:
			return nil
		}
	}
}

// dialer returns how to open the device and a label for the session.
func dialer(cfg *config.Config, simulate bool, log *zap.Logger) (processing.Dialer, string, error) {
	if !simulate {
		s := cfg.Serial
		return func() (processing.Transport, error) {
			port, err := rserial.Open(s.Port, s.Baud, cfg.ReadTimeout(), log)
			if err != nil {
				return nil, err
			}
			return port, nil
		}, s.Port, nil
	}

	a, sim := cfg.Acquisition, cfg.Simulator
	table, err := device.Table(sim.Waveform, sim.TablePoints, byte(*a.Minimum), byte(*a.Maximum))
	if err != nil {
		return nil, "", err
	}

	rate := float64(a.SamplingRate)
	var simOpts []device.SimulatorOption
	if *sim.Paced {
		simOpts = append(simOpts, device.Paced())
	}
	simOpts = append(simOpts, device.WithReadTimeout(cfg.ReadTimeout()))

	return func() (processing.Transport, error) {
		gen := device.NewGenerator(table, sim.FrequencyHz, rate)
		log.Info("[main] starting simulated device",
			zap.String("waveform", string(sim.Waveform)),
			zap.Float64("frequency", gen.Frequency(rate)))
		return device.NewSimulator(gen, rate, simOpts...), nil
	}, "simulator", nil
}
