package poller

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "purpleair"

type metricInfo struct {
	Desc *prometheus.Desc
	Type prometheus.ValueType
}

var (
	lastUpdatedMetric   = newMetric("last_updated_seconds", "Unix timestamp of the last successful cycle", prometheus.GaugeValue)
	temperatureMetric   = newMetric("temperature_fahrenheit", "Temperature reported by the sensor", prometheus.GaugeValue)
	humidityMetric      = newMetric("humidity_percent", "Relative humidity reported by the sensor", prometheus.GaugeValue)
	pm25Metric          = newMetric("pm25", "Averaged PM2.5 across both channels", prometheus.GaugeValue)
	pm25RawAMetric      = newMetric("pm25_raw_a", "PM2.5 channel A raw value", prometheus.GaugeValue)
	pm25RawBMetric      = newMetric("pm25_raw_b", "PM2.5 channel B raw value", prometheus.GaugeValue)
	pm25AQIMetric       = newMetric("pm25_aqi", "PM2.5 AQI index reported by the sensor", prometheus.GaugeValue)
	cyclesMetric        = newMetric("cycles_total", "Poll cycles attempted", prometheus.CounterValue)
	fetchFailuresMetric = newMetric("fetch_failures_total", "Poll cycles skipped because no usable reading arrived", prometheus.CounterValue)
	publishesMetric     = newMetric("state_publishes_total", "State file publications", prometheus.CounterValue)

	allMetrics = []metricInfo{
		lastUpdatedMetric, temperatureMetric, humidityMetric, pm25Metric,
		pm25RawAMetric, pm25RawBMetric, pm25AQIMetric,
		cyclesMetric, fetchFailuresMetric, publishesMetric,
	}
)

// Describe describes all the metrics ever exported by the poller. It
// implements prometheus.Collector.
func (p *Poller) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range allMetrics {
		ch <- m.Desc
	}
}

// Collect reports the operational counters and, once a cycle has
// succeeded, the latest derived record. It implements prometheus.Collector.
func (p *Poller) Collect(ch chan<- prometheus.Metric) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	ch <- prometheus.MustNewConstMetric(cyclesMetric.Desc, cyclesMetric.Type, p.cycles)
	ch <- prometheus.MustNewConstMetric(fetchFailuresMetric.Desc, fetchFailuresMetric.Type, p.fetchFailures)
	ch <- prometheus.MustNewConstMetric(publishesMetric.Desc, publishesMetric.Type, p.publishes)

	if p.last == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(lastUpdatedMetric.Desc, lastUpdatedMetric.Type, float64(p.last.Timestamp.Unix()))
	ch <- prometheus.MustNewConstMetric(temperatureMetric.Desc, temperatureMetric.Type, p.last.Temperature)
	ch <- prometheus.MustNewConstMetric(humidityMetric.Desc, humidityMetric.Type, p.last.Humidity)
	ch <- prometheus.MustNewConstMetric(pm25Metric.Desc, pm25Metric.Type, float64(p.last.Pm25))
	ch <- prometheus.MustNewConstMetric(pm25RawAMetric.Desc, pm25RawAMetric.Type, p.last.Pm25RawA)
	ch <- prometheus.MustNewConstMetric(pm25RawBMetric.Desc, pm25RawBMetric.Type, p.last.Pm25RawB)
	if p.last.AQI != nil {
		ch <- prometheus.MustNewConstMetric(pm25AQIMetric.Desc, pm25AQIMetric.Type, *p.last.AQI)
	}
}

func newMetric(metricName string, docString string, t prometheus.ValueType) metricInfo {
	return metricInfo{
		Desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", metricName),
			docString,
			nil,
			nil,
		),
		Type: t,
	}
}
