package daemon

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// startMetricsServer exposes the studio registry on daemon.metrics_addr. An empty
// address disables the listener; the YAML snapshot is written either way.
func (d *Daemon) startMetricsServer() error {
	addr := d.config.Daemon.MetricsAddr
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.metrics.Registry(), promhttp.HandlerOpts{
		ErrorLog: metricsErrorLog{d},
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	d.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("metrics server: %v", err)
		}
	}()
	d.metricsAddr = ln.Addr().String()
	d.log.Info("metrics listening on %s", d.metricsAddr)
	return nil
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (d *Daemon) MetricsAddr() string {
	return d.metricsAddr
}

// metricsErrorLog adapts the daemon logger to promhttp's Logger interface.
type metricsErrorLog struct{ d *Daemon }

func (l metricsErrorLog) Println(v ...any) {
	l.d.log.Error("metrics handler: %s", fmt.Sprint(v...))
}
