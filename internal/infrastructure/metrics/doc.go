// Package metrics exposes the bridge's Prometheus registry over HTTP.
//
// The registry carries the Go runtime and process collectors; bridge
// components register their own collectors on it.
//
//	reg := metrics.NewRegistry()
//	m, _ := serial.NewMetrics(reg)
//	srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, reg, log)
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(ctx)
package metrics
