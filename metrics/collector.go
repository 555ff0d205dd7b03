// Package metrics exports pipeline cache statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/pipecache"
)

// StatsSource is anything that reports pipeline cache statistics.
// *pipecache.PipelineCache implements it.
type StatsSource interface {
	Stats() pipecache.Stats
}

// Collector is a prometheus.Collector that reads a StatsSource on every
// scrape. It never blocks the frame loop: Stats is safe for concurrent use.
type Collector struct {
	source StatsSource

	pipelines *prometheus.Desc
	waiting   *prometheus.Desc
	modules   *prometheus.Desc
	layouts   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for source. Metric names are prefixed
// with namespace, which may be empty.
func NewCollector(source StatsSource, namespace string) *Collector {
	return &Collector{
		source: source,
		pipelines: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipecache", "pipelines"),
			"Number of queued pipelines by creation state.",
			[]string{"state"}, nil,
		),
		waiting: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipecache", "waiting_pipelines"),
			"Number of pipelines due for another look on the next tick.",
			nil, nil,
		),
		modules: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipecache", "shader_module_lookups_total"),
			"Shader module cache lookups by result.",
			[]string{"result"}, nil,
		),
		layouts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipecache", "layout_lookups_total"),
			"Pipeline layout cache lookups by result.",
			[]string{"result"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pipelines
	ch <- c.waiting
	ch <- c.modules
	ch <- c.layouts
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	for _, g := range []struct {
		state string
		n     int
	}{
		{"queued", s.Queued},
		{"creating", s.Creating},
		{"ready", s.Ready},
		{"failed", s.Failed},
	} {
		ch <- prometheus.MustNewConstMetric(c.pipelines, prometheus.GaugeValue, float64(g.n), g.state)
	}
	ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(s.Waiting))

	ch <- prometheus.MustNewConstMetric(c.modules, prometheus.CounterValue, float64(s.ShaderModuleHits), "hit")
	ch <- prometheus.MustNewConstMetric(c.modules, prometheus.CounterValue, float64(s.ShaderModuleMisses), "miss")
	ch <- prometheus.MustNewConstMetric(c.layouts, prometheus.CounterValue, float64(s.LayoutHits), "hit")
	ch <- prometheus.MustNewConstMetric(c.layouts, prometheus.CounterValue, float64(s.LayoutMisses), "miss")
}
