package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"cuby-bridge/internal/coordinator"
)

// Collector exposes coordinator state as Prometheus metrics. It reads
// only in-memory snapshots; a scrape never triggers a cloud call.
type Collector struct {
	coord *coordinator.Coordinator

	currentTemp   *prometheus.GaugeVec
	targetTemp    *prometheus.GaugeVec
	humidity      *prometheus.GaugeVec
	powerOn       *prometheus.GaugeVec
	stale         *prometheus.GaugeVec
	unavailable   *prometheus.GaugeVec
	lastUpdated   *prometheus.GaugeVec
	deviceCount   prometheus.Gauge
	cycleSuccess  prometheus.Gauge
	lastSuccess   prometheus.Gauge
	cycleDuration prometheus.Gauge
	consecFails   prometheus.Gauge
}

func NewCollector(coord *coordinator.Coordinator) *Collector {
	labels := []string{"device_id", "device_name"}
	return &Collector{
		coord: coord,
		currentTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cuby_current_temperature_celsius",
			Help: "Ambient temperature reported by the device",
		}, labels),
		targetTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cuby_target_temperature_celsius",
			Help: "Setpoint per device",
		}, labels),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cuby_humidity_percent",
			Help: "Relative humidity reported by the device",
		}, labels),
		powerOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cuby_power_on_bool",
			Help: "Power state per device (1=on, 0=off)",
		}, labels),
		stale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cuby_state_stale_bool",
			Help: "Whether the device record is stale (1=stale)",
		}, labels),
		unavailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cuby_device_unavailable_bool",
			Help: "Whether the device was removed server-side (1=gone)",
		}, labels),
		lastUpdated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cuby_device_last_updated_timestamp_seconds",
			Help: "Last state update timestamp per device (epoch seconds)",
		}, labels),
		deviceCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cuby_devices",
			Help: "Number of devices exposed by the bridge",
		}),
		cycleSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cuby_poll_cycle_success",
			Help: "Last poll cycle fully succeeded (1=ok, 0=error)",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cuby_poll_last_success_timestamp_seconds",
			Help: "Last fully successful poll cycle timestamp (epoch seconds)",
		}),
		cycleDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cuby_poll_cycle_duration_seconds",
			Help: "Duration of the last poll cycle",
		}),
		consecFails: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cuby_poll_consecutive_failures",
			Help: "Poll cycles since the last fully successful one",
		}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.currentTemp.Describe(ch)
	c.targetTemp.Describe(ch)
	c.humidity.Describe(ch)
	c.powerOn.Describe(ch)
	c.stale.Describe(ch)
	c.unavailable.Describe(ch)
	c.lastUpdated.Describe(ch)
	c.deviceCount.Describe(ch)
	c.cycleSuccess.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.cycleDuration.Describe(ch)
	c.consecFails.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.currentTemp.Reset()
	c.targetTemp.Reset()
	c.humidity.Reset()
	c.powerOn.Reset()
	c.stale.Reset()
	c.unavailable.Reset()
	c.lastUpdated.Reset()

	devices := c.coord.Devices()
	c.deviceCount.Set(float64(len(devices)))

	for _, dev := range devices {
		labels := prometheus.Labels{
			"device_id":   dev.ID,
			"device_name": dev.Name,
		}
		c.unavailable.With(labels).Set(boolToFloat(c.coord.Unavailable(dev.ID)))

		st, ok := c.coord.State(dev.ID)
		if !ok {
			continue
		}
		if st.CurrentTemperature != nil {
			c.currentTemp.With(labels).Set(coordinator.ConvertTemp(*st.CurrentTemperature, st.Unit, coordinator.UnitCelsius))
		}
		if st.TargetTemperature != nil {
			c.targetTemp.With(labels).Set(coordinator.ConvertTemp(*st.TargetTemperature, st.Unit, coordinator.UnitCelsius))
		}
		if st.Humidity != nil {
			c.humidity.With(labels).Set(*st.Humidity)
		}
		c.powerOn.With(labels).Set(boolToFloat(st.Power))
		c.stale.With(labels).Set(boolToFloat(st.Stale))
		c.lastUpdated.With(labels).Set(float64(st.LastUpdated.Unix()))
	}

	cycle := c.coord.CycleInfo()
	if !cycle.LastAttempt.IsZero() {
		c.cycleSuccess.Set(boolToFloat(cycle.Failed == 0 && cycle.ConsecutiveFailures == 0))
		c.cycleDuration.Set(cycle.Duration.Seconds())
	}
	if !cycle.LastSuccess.IsZero() {
		c.lastSuccess.Set(float64(cycle.LastSuccess.Unix()))
	}
	c.consecFails.Set(float64(cycle.ConsecutiveFailures))

	c.currentTemp.Collect(ch)
	c.targetTemp.Collect(ch)
	c.humidity.Collect(ch)
	c.powerOn.Collect(ch)
	c.stale.Collect(ch)
	c.unavailable.Collect(ch)
	c.lastUpdated.Collect(ch)
	c.deviceCount.Collect(ch)
	c.cycleSuccess.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.cycleDuration.Collect(ch)
	c.consecFails.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
