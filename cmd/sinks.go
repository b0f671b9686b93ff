package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
	"github.com/physiosim/physiosim/sim/publish"
	"github.com/physiosim/physiosim/sim/trace"
)

// SinkConfig selects the output sinks. Empty fields leave the sink disabled.
type SinkConfig struct {
	NATSURL       string `env:"PHYSIOSIM_NATS_URL"`
	VitalsSubject string `env:"PHYSIOSIM_NATS_VITALS_SUBJECT" envDefault:"physiosim.vitals"`
	AlarmSubject  string `env:"PHYSIOSIM_NATS_ALARM_SUBJECT"  envDefault:"physiosim.alarms"`
	WebSocketAddr string `env:"PHYSIOSIM_WS_ADDR"`
	MetricsAddr   string `env:"PHYSIOSIM_METRICS_ADDR"`
	SQLitePath    string `env:"PHYSIOSIM_SQLITE_PATH"`
}

// LoadSinkConfig reads the sink configuration from the environment.
func LoadSinkConfig() (SinkConfig, error) {
	var cfg SinkConfig
	if err := env.Parse(&cfg); err != nil {
		return SinkConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// outputs holds the opened sinks and what must be closed after the run.
type outputs struct {
	sinks     []sim.Sink
	listeners []alarm.Listener
	closers   []func()
}

// Close releases every opened sink in reverse order.
func (o *outputs) Close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		o.closers[i]()
	}
	o.closers = nil
}

func (o *outputs) add(s interface {
	sim.Sink
	alarm.Listener
}) {
	o.sinks = append(o.sinks, s)
	o.listeners = append(o.listeners, s)
}

// openSinks opens every sink the configuration enables. On error the sinks already
// opened are closed.
func openSinks(cfg SinkConfig) (*outputs, error) {
	o := &outputs{}
	fail := func(err error) (*outputs, error) {
		o.Close()
		return nil, err
	}

	if cfg.NATSURL != "" {
		nc, err := publish.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return fail(fmt.Errorf("connect nats: %w", err))
		}
		o.closers = append(o.closers, func() { drainNATS(nc) })
		o.add(publish.NewNATSPublisher(nc, cfg.VitalsSubject, cfg.AlarmSubject))
		logrus.Infof("Publishing to NATS %s (%s, %s)", cfg.NATSURL, cfg.VitalsSubject, cfg.AlarmSubject)
	}

	if cfg.WebSocketAddr != "" {
		hub := publish.NewHub()
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		stop, err := serve(cfg.WebSocketAddr, mux)
		if err != nil {
			return fail(err)
		}
		o.closers = append(o.closers, func() { hub.Close(); stop() })
		o.add(hub)
		logrus.Infof("WebSocket stream on %s/ws", cfg.WebSocketAddr)
	}

	if cfg.MetricsAddr != "" {
		exporter := publish.NewExporter()
		mux := http.NewServeMux()
		mux.Handle("/metrics", exporter.Handler())
		stop, err := serve(cfg.MetricsAddr, mux)
		if err != nil {
			return fail(err)
		}
		o.closers = append(o.closers, stop)
		o.add(exporter)
		logrus.Infof("Prometheus metrics on %s/metrics", cfg.MetricsAddr)
	}

	if cfg.SQLitePath != "" {
		store, err := trace.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return fail(err)
		}
		o.closers = append(o.closers, func() {
			if err := store.Close(); err != nil {
				logrus.Warnf("Closing %s: %v", cfg.SQLitePath, err)
			}
		})
		o.add(store)
		logrus.Infof("Persisting vitals and alarms to %s", cfg.SQLitePath)
	}
	return o, nil
}

// serve listens on addr and serves h until the returned stop function is called.
func serve(addr string, h http.Handler) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("HTTP server on %s: %v", addr, err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func drainNATS(nc *nats.Conn) {
	if err := nc.Drain(); err != nil {
		logrus.Warnf("Draining NATS connection: %v", err)
	}
}
