// Gray Logic Node Server
//
// This is the main entry point of a node server launched by the gateway.
// The gateway writes one line of JSON startup parameters to stdin; the node
// server then joins the gateway's MQTT bus, restores its device cache, and
// serves the controller and switch device types until it is told to stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-nodeserver/internal/device"
	"github.com/nerrad567/gray-logic-nodeserver/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nodeserver/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-nodeserver/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-nodeserver/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-nodeserver/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-nodeserver/internal/nodes"
	"github.com/nerrad567/gray-logic-nodeserver/internal/session"
	"github.com/nerrad567/gray-logic-nodeserver/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// brokerConnectTimeout bounds the wait for the first broker connection.
// The client keeps retrying in the background after it expires.
const brokerConnectTimeout = 30 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Cancelled on interrupt signals
//   - stdin: Source of the gateway's startup line
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, stdin io.Reader) error {
	log := logging.Default()
	log.Info("starting node server",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	params, err := config.ReadStartupParams(stdin, cfg.GetStartupTimeout())
	if err != nil {
		return fmt.Errorf("reading startup parameters: %w", err)
	}

	log = logging.New(cfg.Logging, version, params.Profile())
	log.Info("startup parameters received",
		"broker", fmt.Sprintf("%s:%d", params.Host, params.PortNumber()),
		"profile", params.Profile(),
	)

	// Device cache (optional)
	var repo device.Repository
	if cfg.Database.Enabled {
		db, err := database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		repo = device.NewSQLiteRepository(db.DB)
		log.Info("device cache ready", "path", db.Path())
	}

	// Attribute telemetry (optional)
	var telemetry session.StatusRecorder
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB, params.Profile())
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	types, err := device.NewTypeRegistry(nodes.Types()...)
	if err != nil {
		return fmt.Errorf("registering device types: %w", err)
	}

	mqttClient, err := mqtt.New(cfg.MQTT, mqtt.EndpointFromParams(params))
	if err != nil {
		return fmt.Errorf("creating MQTT client: %w", err)
	}
	mqttClient.SetLogger(log)

	sess, err := session.New(session.Options{
		Client:         mqttClient,
		Types:          types,
		ProfileNum:     params.Profile(),
		Namespace:      cfg.MQTT.Namespace,
		RemoteService:  cfg.MQTT.RemoteService,
		QoS:            byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
		RequestTimeout: cfg.GetRequestTimeout(),
		LoopWindow:     cfg.GetLoopWindow(),
		LoopThreshold:  cfg.Session.LoopThreshold,
		Repository:     repo,
		Telemetry:      telemetry,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registerHandlers(ctx, cancel, sess, log)

	startCtx, startCancel := context.WithTimeout(ctx, brokerConnectTimeout)
	err = sess.Start(startCtx)
	startCancel()
	if err != nil && !errors.Is(err, mqtt.ErrConnectionFailed) {
		_ = sess.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("starting session: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown")

	<-ctx.Done()

	log.Info("shutting down")
	if err := sess.Close(); err != nil {
		log.Warn("error closing session", "error", err)
	}

	log.Info("node server stopped")
	return nil
}

// registerHandlers wires session events to application behaviour.
//
// stop and delete end the process. Each snapshot is checked for the
// controller device, which is added once if the gateway does not list it.
func registerHandlers(ctx context.Context, cancel context.CancelFunc, sess *session.Session, log *logging.Logger) {
	var addingController atomic.Bool

	sess.On(session.EventConnected, func(session.Event) {
		log.Info("session connected")
	})
	sess.On(session.EventOffline, func(ev session.Event) {
		log.Warn("session offline", "error", ev.Err)
	})

	sess.On(session.EventConfig, func(ev session.Event) {
		log.Info("snapshot applied",
			"devices", len(ev.Config.Devices),
			"added", len(ev.Config.Added),
			"removed", len(ev.Config.Removed),
			"params_changed", ev.Config.ParamsChanged)

		if _, err := sess.Registry().Get(nodes.ControllerAddress); err == nil {
			return
		}
		if !addingController.CompareAndSwap(false, true) {
			return
		}
		// The add waits for a result that arrives on the MQTT callback
		// goroutine, so it must not hold the sequencer worker.
		go func() {
			defer addingController.Store(false)
			if err := ensureController(ctx, sess); err != nil {
				log.Error("controller not added", "error", err)
			}
		}()
	})

	sess.On(session.EventPoll, func(ev session.Event) {
		if !ev.Long {
			return
		}
		if ctl, err := sess.Registry().Get(nodes.ControllerAddress); err == nil {
			ctl.ReportAttributes(true)
		}
	})

	sess.On(session.EventStop, func(session.Event) {
		log.Info("gateway requested stop")
		cancel()
	})
	sess.On(session.EventDelete, func(session.Event) {
		log.Info("gateway deleted this node server")
		cancel()
	})
}

// ensureController asks the gateway to add the controller device.
func ensureController(ctx context.Context, sess *session.Session) error {
	ctl, err := nodes.NewController(sess, nodes.ControllerAddress, nodes.ControllerAddress, "")
	if err != nil {
		return err
	}
	return sess.AddDevice(ctx, ctl)
}

// getConfigPath returns the configuration file path from NODESERVER_CONFIG.
// An empty path selects built-in defaults.
func getConfigPath() string {
	return os.Getenv("NODESERVER_CONFIG")
}
