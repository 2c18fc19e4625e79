// Command recorderd runs the capture controller behind an HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maka00/recorder"
	"github.com/maka00/recorder/engine/gstreamer"
	"github.com/maka00/recorder/internal/config"
	"github.com/maka00/recorder/internal/devices"
	"github.com/maka00/recorder/internal/notify"
)

// Version information
const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML config (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("recorderd %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logLevel := cfg.SlogLevel()
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("recorderd starting",
		"version", version,
		"device", cfg.Device,
		"output_dir", cfg.OutputDir,
		"chunk_size", cfg.Recording.ChunkSize,
		"http_addr", cfg.HTTP.Addr,
	)

	if err := run(cfg); err != nil {
		slog.Error("recorderd failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publisher *notify.Publisher
	if cfg.MQTT.Broker != "" {
		p, err := notify.Connect(notify.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
			Encoding: cfg.MQTT.Encoding,
		})
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
	}

	controller, err := newController(gstreamer.New(), cfg, chunkHandler(cfg.Device, publisher))
	if err != nil {
		return err
	}

	watcher, err := devices.NewWatcher(cfg.DeviceDir)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           newAPI(controller, cfg.Device).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return watcher.Run(gctx, func(ev devices.Event) {
			onDeviceEvent(gctx, controller, ev)
		})
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		shutdownController(shutdownCtx, controller)
		return err
	})

	return g.Wait()
}

// chunkHandler logs every completed chunk and forwards it to publisher when
// one is configured.
func chunkHandler(device string, publisher *notify.Publisher) recorder.ChunkFunc {
	return func(c recorder.ChunkInfo) {
		slog.Info("chunk completed",
			"recording_id", c.RecordingID,
			"index", c.Index,
			"location", c.Location,
			"timestamp", c.Timestamp,
			"duration", c.Duration,
		)
		if publisher == nil {
			return
		}
		err := publisher.PublishChunk(notify.ChunkEvent{
			RecordingID: c.RecordingID,
			Device:      device,
			Index:       c.Index,
			Location:    c.Location,
			Timestamp:   c.Timestamp,
			DurationMs:  c.Duration.Milliseconds(),
		})
		if err != nil {
			slog.Warn("chunk notification failed", "index", c.Index, "error", err)
		}
	}
}

// onDeviceEvent stops the active session when its device disappears.
func onDeviceEvent(ctx context.Context, controller *recorder.CaptureController, ev devices.Event) {
	slog.Info("device hotplug", "event", ev.Kind.String(), "device", ev.Device)
	if ev.Kind != devices.Removed {
		return
	}
	st := controller.Status()
	if st.Source == nil || st.Source.Device != ev.Device {
		return
	}
	slog.Warn("active device removed, stopping", "device", ev.Device)
	shutdownController(ctx, controller)
}

// shutdownController stops the recording, then the source.
func shutdownController(ctx context.Context, controller *recorder.CaptureController) {
	if err := controller.StopRecording(ctx); err != nil && !errors.Is(err, recorder.ErrNotRunning) {
		slog.Warn("failed to stop recording", "error", err)
	}
	st := controller.Status()
	if st.Source == nil {
		return
	}
	if err := controller.Stop(ctx, st.Source.Device); err != nil {
		slog.Warn("failed to stop source", "device", st.Source.Device, "error", err)
	}
}
