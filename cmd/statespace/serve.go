package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/StateSpace/internal/api"
	"github.com/AaronLay10/StateSpace/internal/events"
	"github.com/AaronLay10/StateSpace/internal/logger"
	"github.com/AaronLay10/StateSpace/internal/modelcheck"
	"github.com/AaronLay10/StateSpace/internal/mqtt"
	"github.com/AaronLay10/StateSpace/internal/storage/postgres"
	"github.com/AaronLay10/StateSpace/internal/version"
)

const statusInterval = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and start model checks on request",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// statusSnapshot is the payload of the retained status topic.
type statusSnapshot struct {
	Instance string    `json:"instance"`
	Version  string    `json:"version"`
	Online   bool      `json:"online"`
	States   int       `json:"states"`
	Explored int       `json:"explored"`
	Jobs     int       `json:"jobs"`
	Running  int       `json:"running"`
	Time     time.Time `json:"ts"`
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.For(logger.ComponentAPI)
	instance := cfg.InstanceID()
	_, _ = events.Emit("info", "system.startup", "statespace starting", map[string]interface{}{
		"instance": instance,
		"version":  version.Version,
	})

	var listeners []modelcheck.Listener
	deps := api.Deps{Log: log}

	pgReady := false
	if cfg.Postgres.Enabled {
		opts, err := cfg.PostgresOptions()
		if err != nil {
			return err
		}
		pg, err := postgres.New(instance, opts)
		switch {
		case err == nil:
			defer pg.Close()
			events.SetStore(pg)
			listeners = append(listeners, modelcheck.NewRunRecorder(pg, logger.For(logger.ComponentStorage)))
			deps.Runs = pg
			deps.History = pg
			pgReady = true
		case cfg.Postgres.Optional:
			log.Warnw("postgres unavailable, continuing without storage", "error", err)
		default:
			return fmt.Errorf("postgres: %w", err)
		}
	}

	var broker *mqtt.Client
	topics := mqtt.Topics{Prefix: cfg.MQTT.Prefix}
	mlog := logger.For(logger.ComponentMQTT)
	if cfg.MQTT.Enabled {
		opts, err := cfg.MQTTOptions()
		if err != nil {
			return err
		}
		offline, _ := json.Marshal(statusSnapshot{Instance: instance, Version: version.Version})
		opts.Will = &mqtt.Will{Topic: topics.Status(), Payload: offline}
		broker = mqtt.NewClient(opts)
		if broker.Start(mlog) {
			defer broker.Disconnect()
		} else if !cfg.MQTT.Optional {
			return fmt.Errorf("mqtt: cannot reach broker")
		} else {
			broker = nil
		}
	}

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if broker != nil {
		progress, unwatch := mqtt.Watch(s.graph, broker, topics, mlog)
		defer unwatch()
		listeners = append(listeners, progress)
	}

	jobs := modelcheck.NewManager(logger.For(logger.ComponentModelCheck), listeners...)
	jobs.SetEngine(s.channel)
	deps.Jobs = jobs
	deps.Space = s.graph
	deps.Graph = s.graph
	deps.Formulas = s.graph

	server := api.NewServer(ctx, deps)
	ready := server.Readiness()
	ready.SetEngineReady(true)
	ready.SetPostgres(pgReady, !cfg.Postgres.Enabled || cfg.Postgres.Optional)
	ready.SetMQTT(broker != nil, !cfg.MQTT.Enabled || cfg.MQTT.Optional)

	if broker != nil {
		control := mqtt.NewControlSubscriber(broker, topics, jobs, mlog)
		if err := control.SubscribeAll(); err != nil {
			mlog.Warnw("mqtt control subscription failed", "error", err)
		}
		broker.OnConnect(func() { _ = control.Resubscribe() })

		status := mqtt.NewStatusPublisher(broker, topics, statusInterval, func() interface{} {
			counts := s.graph.Counts()
			list := jobs.List()
			running := 0
			for _, j := range list {
				if j.State == modelcheck.JobRunning {
					running++
				}
			}
			return statusSnapshot{
				Instance: instance,
				Version:  version.Version,
				Online:   true,
				States:   counts.States,
				Explored: counts.Explored,
				Jobs:     len(list),
				Running:  running,
				Time:     time.Now().UTC(),
			}
		}, mlog)
		status.Start()
		defer status.Stop()
	}

	err = server.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.APIPort()), api.TLSFromEnv())
	_, _ = events.Emit("info", "system.shutdown", "statespace stopping", map[string]interface{}{"instance": instance})
	events.CloseAllSubscribers()
	return err
}
