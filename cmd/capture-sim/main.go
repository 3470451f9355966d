// Command capture-sim runs a capture bridge against a simulated or real
// camera, a mock tracker on the consumer side and optional debug outputs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	cameracapture "github.com/e7canasta/camera-capture"
	"github.com/e7canasta/camera-capture/internal/config"
	"github.com/e7canasta/camera-capture/internal/exchange"
	"github.com/e7canasta/camera-capture/internal/logger"
	"github.com/e7canasta/camera-capture/internal/pixbuf"
	"github.com/e7canasta/camera-capture/internal/preview"
	"github.com/e7canasta/camera-capture/internal/snapshot"
	"github.com/e7canasta/camera-capture/internal/telemetry"
	"github.com/e7canasta/camera-capture/internal/tracker"
)

const version = "v0.1.0"

func main() {
	configPath := flag.String("config", "configs/capture-sim.yaml", "path to the YAML configuration")
	debug := flag.Bool("debug", false, "enable debug logging")
	listen := flag.String("listen", "", "preview listen address (overrides config)")
	sourceKind := flag.String("source", "", "frame source: synthetic, y4m or gstreamer (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if *listen != "" {
		cfg.Preview.Listen = *listen
	}
	if *sourceKind != "" {
		cfg.Source.Kind = *sourceKind
		if err := config.Validate(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	log := logger.Init(cfg.Log)
	log.Info().
		Str("version", version).
		Str("instance_id", cfg.InstanceID).
		Str("source", cfg.Source.Kind).
		Int("width", cfg.Camera.Width).
		Int("height", cfg.Camera.Height).
		Int("orientation", cfg.Camera.Orientation).
		Msg("capture-sim starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, stopping gracefully")
		cancel()
	}()

	if err := run(ctx, cancel, cfg, log); err != nil {
		log.Error().Err(err).Msg("capture-sim failed")
		os.Exit(1)
	}
	log.Info().Msg("capture-sim stopped")
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, log zerolog.Logger) error {
	tsMode, err := exchange.ParseTimestampMode(cfg.Camera.TimestampMode)
	if err != nil {
		return err
	}

	bridge := cameracapture.NewBridge(cameracapture.BridgeConfig{
		WaitTimeout:   cfg.Camera.WaitTimeout(),
		TimestampMode: tsMode,
		ImageFormat:   cameracapture.FormatRGB,
	}, cameracapture.WithLogger(logger.GetLogger("capture")))

	if err := bridge.SetParameters(cameracapture.Params{
		Width:       cfg.Camera.Width,
		Height:      cfg.Camera.Height,
		Orientation: cfg.Camera.Orientation,
		Flip:        cfg.Camera.Flip,
	}); err != nil {
		return err
	}

	src, closeSrc, err := buildSource(cfg, logger.GetLogger("source"))
	if err != nil {
		return err
	}
	defer closeSrc()

	var wg sync.WaitGroup
	srcDone := make(chan struct{})

	// Producer: the camera callback thread.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(srcDone)
		if err := src.Run(ctx, bridge); err != nil {
			log.Error().Err(err).Msg("source failed")
		}
		// A finished source ends the run.
		cancel()
	}()

	scheduleChanges(ctx, bridge, cfg.Camera, log)

	if d := cfg.Camera.Warmup(); d > 0 {
		if _, err := bridge.Warmup(ctx, d); err != nil {
			log.Warn().Err(err).Msg("warm-up did not settle, continuing")
		}
	}

	var hooks []tracker.Hook
	var srv *preview.Server
	if cfg.Preview.Listen != "" {
		var saver *snapshot.Saver
		if cfg.Preview.SnapshotDir != "" {
			if saver, err = snapshot.NewSaver(cfg.Preview.SnapshotDir, "jpeg", cfg.Preview.JPEGQuality); err != nil {
				return err
			}
		}
		srv = preview.New(preview.Config{
			JPEGQuality: cfg.Preview.JPEGQuality,
			MaxFPS:      10,
			Stats:       func() any { return bridge.Stats() },
			Saver:       saver,
		}, logger.GetLogger("preview"))

		hooks = append(hooks, func(f *pixbuf.Buffer, _ tracker.Result) {
			if _, err := srv.Publish(f, cameracapture.FormatRGB); err != nil {
				log.Debug().Err(err).Msg("preview publish failed")
			}
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, cfg.Preview.Listen); err != nil {
				log.Error().Err(err).Msg("preview server failed")
			}
		}()
	}

	loop := tracker.NewLoop(bridge, tracker.NewMock(
		time.Duration(cfg.Tracker.LatencyMS)*time.Millisecond,
		cfg.Tracker.MaxFrames,
	), logger.GetLogger("tracker"), hooks...)

	var emitter *telemetry.Emitter
	if cfg.MQTT.Broker != "" {
		emitter = telemetry.NewEmitter(telemetry.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		}, logger.GetLogger("telemetry"))
		if err := emitter.Connect(ctx); err != nil {
			// Auto-reconnect keeps trying in the background.
			log.Warn().Err(err).Msg("telemetry broker unreachable at startup")
		}
		defer emitter.Disconnect()
	}

	rep := &reporter{
		instanceID: cfg.InstanceID,
		bridge:     bridge,
		source:     src,
		loop:       loop,
		emitter:    emitter,
		log:        logger.GetLogger("stats"),
	}
	if emitter != nil && cfg.MQTT.ControlTopic != "" {
		ctl := telemetry.NewControl(emitter, cfg.MQTT.ControlTopic, telemetry.Callbacks{
			OnGetStatus: rep.status,
			OnSetParameters: func(orientation int, flip bool) error {
				return bridge.SetParameters(cameracapture.Params{
					Width:       cfg.Camera.Width,
					Height:      cfg.Camera.Height,
					Orientation: orientation,
					Flip:        flip,
				})
			},
			OnShutdown: func() {
				log.Info().Msg("shutdown requested over control topic")
				cancel()
			},
		}, logger.GetLogger("control"))
		if err := ctl.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("control handler not started")
		} else {
			defer ctl.Stop()
		}
	}

	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(logger.CronLogger{Logger: log})))
	if _, err := sched.AddFunc(cfg.Stats.Schedule, rep.report); err != nil {
		return fmt.Errorf("stats.schedule: %w", err)
	}
	sched.Start()

	// Consumer: the tracking thread. Returns when ctx ends, the bridge
	// closes or the tracker reaches its frame budget.
	if err := loop.Run(ctx); err != nil {
		log.Error().Err(err).Msg("tracker loop failed")
	}
	cancel()

	// Close only after the producer has stopped writing.
	<-srcDone
	bridge.Close()
	<-sched.Stop().Done()

	waitTimeout(&wg, time.Duration(cfg.ShutdownTimeoutS)*time.Second, log)
	rep.report()
	return nil
}

// waitTimeout waits for wg up to d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration, log zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		log.Warn().Dur("timeout", d).Msg("shutdown timeout exceeded, some goroutines may still be running")
	}
}

// scheduleChanges replays the configured device rotations.
func scheduleChanges(ctx context.Context, bridge *cameracapture.Bridge, cam config.CameraConfig, log zerolog.Logger) {
	for _, ch := range cam.Changes {
		ch := ch
		t := time.AfterFunc(time.Duration(ch.AfterMS)*time.Millisecond, func() {
			if ctx.Err() != nil {
				return
			}
			err := bridge.SetParameters(cameracapture.Params{
				Width:       cam.Width,
				Height:      cam.Height,
				Orientation: ch.Orientation,
				Flip:        ch.Flip,
			})
			if err != nil {
				log.Error().Err(err).Msg("parameter change rejected")
				return
			}
			log.Info().Int("orientation", ch.Orientation).Bool("flip", ch.Flip).Msg("parameters changed")
		})
		context.AfterFunc(ctx, func() { t.Stop() })
	}
}
