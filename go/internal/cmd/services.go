package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/mcdev12/scoreboard/go/internal/clock"
	"github.com/mcdev12/scoreboard/go/internal/control"
	"github.com/mcdev12/scoreboard/go/internal/dbconfig"
	"github.com/mcdev12/scoreboard/go/internal/devices"
	"github.com/mcdev12/scoreboard/go/internal/dispatch"
	"github.com/mcdev12/scoreboard/go/internal/gateway"
	"github.com/mcdev12/scoreboard/go/internal/outbox"
	"github.com/mcdev12/scoreboard/go/internal/scoreboard"
	"github.com/mcdev12/scoreboard/go/internal/transport"
	"github.com/mcdev12/scoreboard/go/internal/transport/bluez"
	"github.com/mcdev12/scoreboard/go/internal/transport/uart"
	"github.com/rs/zerolog/log"
)

// runner is a long-lived component loop started after wiring.
type runner struct {
	name string
	run  func(ctx context.Context) error
}

type Services struct {
	Engine     *clock.Engine
	Transport  *transport.Manager
	Dispatcher *dispatch.Dispatcher
	App        *scoreboard.App
	Control    *control.Service
	Gateway    *gateway.ConnectionManager
	Health     *outbox.HealthChecker

	backend string
	runners []runner
	closers []func()
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	s := &Services{backend: cfg.Transport.Backend}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	// Wire up dependency injection chain
	// Settings → Transport → Engine → Dispatcher → App → Service layer

	var (
		database *sql.DB
		dbCfg    = dbconfig.NewConfigFromEnv()
	)
	if cfg.needsDatabase() {
		db, err := setupDatabase(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		database = db
		s.closers = append(s.closers, func() { database.Close() })
	}

	// Device settings
	store, err := setupDeviceStore(cfg, database)
	if err != nil {
		return nil, err
	}
	if cfg.Devices.Source == "postgres" {
		watchCfg := devices.DefaultWatchConfig()
		watchCfg.DatabaseURL = dbCfg.DSN()
		s.runners = append(s.runners, runner{"device watch", func(ctx context.Context) error {
			return devices.Watch(ctx, watchCfg, func() {
				if err := s.App.ReloadDevices(ctx); err != nil {
					log.Error().Err(err).Msg("failed to reload devices")
				}
			})
		}})
	}

	// Transport
	connector, err := setupConnector(cfg)
	if err != nil {
		return nil, err
	}
	gate := transport.NewPolicyGate()
	s.Transport = transport.NewManager(transport.Config{
		DialTimeout:  cfg.Transport.DialTimeout,
		WriteTimeout: cfg.Transport.WriteTimeout,
		ScanTimeout:  cfg.Transport.ScanTimeout,
	}, connector, gate, nil)
	s.closers = append(s.closers, s.Transport.Close)

	// Clock engine and dispatcher
	s.Engine = clock.NewEngine(clock.DefaultConfig(), nil)
	dispatchCfg := dispatch.DefaultConfig()
	if cfg.Dispatch.MinInterval > 0 {
		dispatchCfg.MinInterval = cfg.Dispatch.MinInterval
	}
	if cfg.Dispatch.ResyncDelay > 0 {
		dispatchCfg.ResyncDelay = cfg.Dispatch.ResyncDelay
	}
	s.Dispatcher = dispatch.New(dispatchCfg, s.Transport, s.Engine, nil)
	s.closers = append(s.closers,
		s.Engine.Subscribe(s.Dispatcher.OnClockEvent),
		s.Transport.Subscribe(s.Dispatcher),
		s.Dispatcher.SubscribeStatus(func(address, message string) {
			log.Info().Str("address", address).Msg(message)
		}),
	)
	s.runners = append(s.runners,
		runner{"clock engine", s.Engine.Run},
		runner{"dispatcher", s.Dispatcher.Run},
	)

	// Event journal and bus
	recorder, jsPublisher, err := s.setupEvents(ctx, cfg, database, dbCfg)
	if err != nil {
		return nil, err
	}

	// App and service layer
	s.App = scoreboard.NewApp(s.Engine, s.Transport, s.Dispatcher, store, gate, recorder)
	s.closers = append(s.closers, s.App.Close)
	s.Control = control.NewService(s.App)

	// WebSocket mirror
	s.Gateway = gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	s.closers = append(s.closers, gateway.AttachClock(s.Gateway, s.App))
	s.runners = append(s.runners, runner{"gateway", func(ctx context.Context) error {
		s.Gateway.Start(ctx)
		return nil
	}})
	if jsPublisher != nil {
		consumerCfg := gateway.DefaultJetStreamConsumerConfig()
		consumerCfg.StreamName = jsPublisher.Config().StreamName
		consumerCfg.SubjectFilter = jsPublisher.Config().SubjectPrefix + ".>"
		consumer, err := gateway.NewEventConsumer(ctx, s.Gateway, jsPublisher.JetStream(), consumerCfg)
		if err != nil {
			return nil, err
		}
		s.runners = append(s.runners, runner{"event consumer", consumer.Start})
	}

	// Load the device slots and connect them once everything is running.
	s.runners = append(s.runners, runner{"device setup", func(ctx context.Context) error {
		if err := s.App.ReloadDevices(ctx); err != nil {
			log.Error().Err(err).Msg("failed to load devices")
		}
		return nil
	}})

	ok = true
	return s, nil
}

func setupDeviceStore(cfg *Config, database *sql.DB) (devices.Store, error) {
	env := devices.NewEnvStore()
	switch cfg.Devices.Source {
	case "env":
		return env, nil
	case "postgres":
		return devices.Layered{env, devices.NewPGStore(database)}, nil
	default:
		file, err := devices.NewFileStore(cfg.Devices.File)
		if err != nil {
			return nil, err
		}
		return devices.Layered{env, file}, nil
	}
}

func setupConnector(cfg *Config) (transport.Connector, error) {
	switch cfg.Transport.Backend {
	case "uart":
		log.Info().Int("baud", cfg.Transport.SerialBaud).Msg("using serial transport")
		return uart.NewConnector(cfg.Transport.SerialBaud), nil
	case "none":
		log.Warn().Msg("no display transport, writes are logged only")
		return transport.DryRunConnector{}, nil
	default:
		bluezCfg := bluez.DefaultConfig()
		bluezCfg.Adapter = cfg.Transport.Adapter
		connector, err := bluez.NewConnector(bluezCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to set up BlueZ transport: %w", err)
		}
		log.Info().Str("adapter", bluezCfg.Adapter).Msg("using BlueZ transport")
		return connector, nil
	}
}

// setupEvents builds the recorder the App journals into, and the relay behind it. The JetStream
// publisher is returned when NATS is configured so the gateway can share its connection.
func (s *Services) setupEvents(ctx context.Context, cfg *Config, database *sql.DB, dbCfg dbconfig.Config) (*outbox.Recorder, *outbox.JetStreamPublisher, error) {
	var (
		publisher   outbox.EventPublisher = outbox.LogPublisher{}
		jsPublisher *outbox.JetStreamPublisher
		healthOpts  []outbox.HealthOption
	)
	if cfg.NATS.URL != "" {
		jsCfg := outbox.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		p, err := outbox.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create JetStream publisher: %w", err)
		}
		s.closers = append(s.closers, func() {
			if err := p.Close(); err != nil {
				log.Error().Err(err).Msg("close publisher")
			}
		})
		publisher, jsPublisher = p, p
		healthOpts = append(healthOpts, outbox.WithNATS(p.Conn()))
	}

	metrics := outbox.NewLogMetricsCollector()
	publisher = outbox.NewMetricPublisher(publisher, metrics, nil)

	recorderCfg := outbox.DefaultRecorderConfig()
	recorderCfg.QueueSize = cfg.Outbox.QueueSize

	var recorder *outbox.Recorder
	if cfg.Outbox.Enabled {
		repo := outbox.NewRepository(database)

		listenerCfg := outbox.DefaultListenerConfig()
		listenerCfg.DatabaseURL = dbCfg.DSN()
		listenerCfg.FallbackInterval = cfg.Outbox.FallbackInterval
		listener, err := outbox.NewListener(repo, publisher, metrics, listenerCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create outbox listener: %w", err)
		}
		s.runners = append(s.runners, runner{"outbox listener", listener.Start})

		recorder = outbox.NewRecorder(repo, recorderCfg, nil)
		healthOpts = append(healthOpts, outbox.WithDatabase(database, repo), outbox.WithListener(listener))
	} else {
		recorder = outbox.NewRecorder(outbox.PublisherSink{Publisher: publisher}, recorderCfg, nil)
	}
	s.runners = append(s.runners, runner{"event recorder", recorder.Run})

	healthOpts = append(healthOpts, outbox.WithRecorder(recorder))
	s.Health = outbox.NewHealthChecker(nil, 2*cfg.Outbox.FallbackInterval, healthOpts...)
	return recorder, jsPublisher, nil
}

// start runs every component loop until ctx is cancelled. The returned WaitGroup finishes once
// all of them have returned.
func (s *Services) start(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, r := range s.runners {
		wg.Add(1)
		go func(r runner) {
			defer wg.Done()
			started := time.Now()
			if err := r.run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("component", r.name).Dur("uptime", time.Since(started)).Msg("component stopped")
				return
			}
			log.Debug().Str("component", r.name).Msg("component stopped")
		}(r)
	}
	return &wg
}

// Close releases resources in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
