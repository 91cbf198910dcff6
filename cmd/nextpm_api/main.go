// NextPM API owns the serial bridge, polls the sensor and serves the readings.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/config"
	"github.com/NotCoffee418/nextpm_monitor/pkg/history"
	"github.com/NotCoffee418/nextpm_monitor/pkg/livefeed"
	"github.com/NotCoffee418/nextpm_monitor/pkg/logging"
	"github.com/NotCoffee418/nextpm_monitor/pkg/metrics"
	"github.com/NotCoffee418/nextpm_monitor/pkg/nextpm"
	"github.com/NotCoffee418/nextpm_monitor/pkg/relay"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load config
	if err := config.LoadNextPMConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load NextPM API config: %v\n", err)
		os.Exit(1)
	}
	cfg := config.ActiveNextPMConfig
	log := logging.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalf("NextPM API stopped: %v", err)
	}
}

func run(ctx context.Context, cfg *config.NextPMConfig, log *logrus.Logger) error {
	window, err := nextpm.ParseWindow(cfg.API.PollWindow)
	if err != nil {
		return err
	}

	client := nextpm.New(cfg, log)
	bus := client.Bus()

	store, err := history.Open(cfg.History.MaxPoints, log)
	if err != nil {
		return err
	}
	defer store.Close()
	bus.OnData(store.HandleData)

	hub := livefeed.NewHub(log)
	hub.Attach(bus)

	exporter := metrics.NewExporter(client)
	exporter.Attach(bus)

	sinks := openSinks(ctx, cfg.Relay, log)
	rel := relay.New(log, cfg.Serial.Device, sinks...)
	if len(sinks) > 0 {
		rel.Attach(bus)
	}

	mux := http.NewServeMux()
	(&api{sensor: client, history: store, log: log}).routes(mux)
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", exporter.Handler())

	listener := fmt.Sprintf("%s:%d", cfg.API.ListenAddress, cfg.API.ListenPort)
	server := &http.Server{
		Addr:              listener,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Starting NextPM API on %s", listener)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		p := &poller{target: client, window: window, interval: cfg.API.PollInterval(), log: log}
		return p.run(gctx)
	})
	g.Go(func() error {
		return rel.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		disconnectSensor(client, log)
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type disconnecter interface {
	IsConnected() bool
	Disconnect() error
}

func disconnectSensor(s disconnecter, log *logrus.Logger) {
	if !s.IsConnected() {
		return
	}
	if err := s.Disconnect(); err != nil {
		log.Debugf("Disconnect during shutdown: %v", err)
	}
}

// openSinks connects the enabled relays. A relay that cannot connect is skipped.
func openSinks(ctx context.Context, cfg config.RelayConfig, log *logrus.Logger) []relay.Sink {
	var sinks []relay.Sink
	if cfg.Redis.Enabled {
		if s, err := relay.NewRedisSink(ctx, cfg.Redis, log); err != nil {
			log.Errorf("Redis relay disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.MQTT.Enabled {
		if s, err := relay.NewMQTTSink(cfg.MQTT, log); err != nil {
			log.Errorf("MQTT relay disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	return sinks
}
