// Package metrics exposes sensor readings and connection statistics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/NotCoffee418/nextpm_monitor/pkg/eventbus"
	"github.com/NotCoffee418/nextpm_monitor/pkg/nextpm"
	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nextpm"

// StatusSource is satisfied by *nextpm.Client.
type StatusSource interface {
	Status() nextpm.Status
}

type Exporter struct {
	registry *prometheus.Registry

	lines            *prometheus.CounterVec
	errors           *prometheus.CounterVec
	connectionEvents *prometheus.CounterVec
}

// NewExporter uses its own registry so several exporters can coexist in tests.
func NewExporter(source StatusSource) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lines_received_total",
				Help:      "Lines received from the bridge by kind.",
			},
			[]string{"kind"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Error events by category.",
			},
			[]string{"category"},
		),
		connectionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_events_total",
				Help:      "Connects and disconnects, forced disconnects counted separately.",
			},
			[]string{"event"},
		),
	}

	e.registry.MustRegister(
		e.lines,
		e.errors,
		e.connectionEvents,
		newDeviceCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return e
}

func (e *Exporter) Attach(bus *eventbus.Bus) {
	bus.OnData(func(ev eventbus.DataEvent) {
		e.lines.WithLabelValues(ev.Frame.Kind.String()).Inc()
	})
	bus.OnError(func(ev eventbus.ErrorEvent) {
		e.errors.WithLabelValues(string(ev.Category)).Inc()
	})
	bus.OnConnect(func(eventbus.ConnectEvent) {
		e.connectionEvents.WithLabelValues("connect").Inc()
	})
	bus.OnDisconnect(func(ev eventbus.DisconnectEvent) {
		if ev.Reason != nil {
			e.connectionEvents.WithLabelValues("forced_disconnect").Inc()
			return
		}
		e.connectionEvents.WithLabelValues("disconnect").Inc()
	})
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// deviceCollector reads the cache on every scrape. Unknown values are not exported.
type deviceCollector struct {
	source StatusSource

	connected   *prometheus.Desc
	firmware    *prometheus.Desc
	temperature *prometheus.Desc
	humidity    *prometheus.Desc
	mass        *prometheus.Desc
	number      *prometheus.Desc
	bins        *prometheus.Desc
	stats       *prometheus.Desc
}

func newDeviceCollector(source StatusSource) *deviceCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &deviceCollector{
		source:      source,
		connected:   desc("connected", "1 while the serial connection is up."),
		firmware:    desc("sensor_firmware_version", "Sensor firmware version."),
		temperature: desc("temperature_celsius", "Sensor temperature."),
		humidity:    desc("humidity_percent", "Sensor relative humidity."),
		mass:        desc("mass_concentration_ug_m3", "Last PM mass concentration.", "size"),
		number:      desc("number_concentration_per_litre", "Last PM number concentration.", "size"),
		bins:        desc("bin_count", "Last particle size histogram.", "channel"),
		stats:       desc("session_stat", "Connection statistics since the last connect.", "stat"),
	}
}

func (c *deviceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connected
	ch <- c.firmware
	ch <- c.temperature
	ch <- c.humidity
	ch <- c.mass
	ch <- c.number
	ch <- c.bins
	ch <- c.stats
}

func (c *deviceCollector) Collect(ch chan<- prometheus.Metric) {
	status := c.source.Status()
	d := status.Device

	connected := 0.0
	if status.Connected {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)

	if d.FirmwareKnown {
		ch <- prometheus.MustNewConstMetric(c.firmware, prometheus.GaugeValue, float64(d.FirmwareVersion))
	}
	if d.TemperatureKnown {
		ch <- prometheus.MustNewConstMetric(c.temperature, prometheus.GaugeValue, d.Temperature)
	}
	if d.HumidityKnown {
		ch <- prometheus.MustNewConstMetric(c.humidity, prometheus.GaugeValue, d.Humidity)
	}
	if d.MassKnown {
		c.concentrations(ch, c.mass, d.Mass)
	}
	if d.NumberKnown {
		c.concentrations(ch, c.number, d.Number)
	}
	if d.BinsKnown {
		for i, v := range d.Bins {
			ch <- prometheus.MustNewConstMetric(c.bins, prometheus.GaugeValue, float64(v), protocol.BinChannelLabels[i])
		}
	}

	stats := map[string]uint64{
		"commands_sent":      d.Stats.CommandsSent,
		"responses_received": d.Stats.ResponsesReceived,
		"opaque_lines":       d.Stats.OpaqueLines,
		"errors":             d.Stats.Errors,
		"checksum_failures":  d.Stats.ChecksumFailures,
		"degraded_frames":    d.Stats.DegradedFrames,
	}
	for name, v := range stats {
		ch <- prometheus.MustNewConstMetric(c.stats, prometheus.GaugeValue, float64(v), name)
	}
}

func (c *deviceCollector) concentrations(ch chan<- prometheus.Metric, desc *prometheus.Desc, v protocol.Concentrations) {
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v.PM1, "pm1")
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v.PM25, "pm2.5")
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v.PM10, "pm10")
}
