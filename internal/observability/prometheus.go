package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
)

// textfileSink collects OTel metrics into a private Prometheus registry and
// writes them out in the text exposition format.
type textfileSink struct {
	path     string
	registry *prometheus.Registry
	exporter *promexporter.Exporter
}

func newTextfileSink(path string) (*textfileSink, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return &textfileSink{path: path, registry: registry, exporter: exporter}, nil
}

// write gathers the registry and atomically replaces the textfile.
func (s *textfileSink) write() error {
	err := prometheus.WriteToTextfile(s.path, s.registry)
	if err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", s.path, err)
	}

	return nil
}
