// Package prometheus exports memmap engine metrics through
// github.com/prometheus/client_golang.
//
//	reg := prometheus.NewRegistry()
//	mc, err := memprom.NewRegistered(reg)
//	if err != nil {
//		return err
//	}
//	engine, err := memmap.New(memmap.WithMetricsCollector(mc))
package prometheus
