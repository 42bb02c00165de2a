package realtime

import "github.com/prometheus/client_golang/prometheus"

// Collector exports the connection manager and broadcaster counters to
// Prometheus.
type Collector struct {
	manager     *ConnectionManager
	broadcaster *Broadcaster

	connections   *prometheus.Desc
	disconnects   *prometheus.Desc
	subscriptions *prometheus.Desc
	framesSent    *prometheus.Desc
	framesDropped *prometheus.Desc
	denied        *prometheus.Desc

	published     *prometheus.Desc
	publishErrors *prometheus.Desc
	relayed       *prometheus.Desc
	decodeErrors  *prometheus.Desc
}

func NewCollector(manager *ConnectionManager, broadcaster *Broadcaster) *Collector {
	return &Collector{
		manager:     manager,
		broadcaster: broadcaster,

		connections:   prometheus.NewDesc("computor_realtime_connections", "Live WebSocket connections.", nil, nil),
		disconnects:   prometheus.NewDesc("computor_realtime_disconnects_total", "Closed connections.", nil, nil),
		subscriptions: prometheus.NewDesc("computor_realtime_subscriptions_total", "Accepted channel subscriptions.", nil, nil),
		framesSent:    prometheus.NewDesc("computor_realtime_frames_sent_total", "Frames queued for delivery.", nil, nil),
		framesDropped: prometheus.NewDesc("computor_realtime_frames_dropped_total", "Frames dropped on full send queues.", nil, nil),
		denied:        prometheus.NewDesc("computor_realtime_denied_subscriptions_total", "Refused channel subscriptions.", nil, nil),

		published:     prometheus.NewDesc("computor_realtime_published_total", "Envelopes published on the bus.", nil, nil),
		publishErrors: prometheus.NewDesc("computor_realtime_publish_errors_total", "Publish failures.", nil, nil),
		relayed:       prometheus.NewDesc("computor_realtime_relayed_total", "Envelopes relayed from the bus.", nil, nil),
		decodeErrors:  prometheus.NewDesc("computor_realtime_decode_errors_total", "Undecodable bus messages dropped.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.disconnects
	ch <- c.subscriptions
	ch <- c.framesSent
	ch <- c.framesDropped
	ch <- c.denied
	ch <- c.published
	ch <- c.publishErrors
	ch <- c.relayed
	ch <- c.decodeErrors
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.manager.Metrics()
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(c.manager.ConnectionCount()))
	ch <- prometheus.MustNewConstMetric(c.disconnects, prometheus.CounterValue, float64(m.Disconnects))
	ch <- prometheus.MustNewConstMetric(c.subscriptions, prometheus.CounterValue, float64(m.Subscriptions))
	ch <- prometheus.MustNewConstMetric(c.framesSent, prometheus.CounterValue, float64(m.FramesSent))
	ch <- prometheus.MustNewConstMetric(c.framesDropped, prometheus.CounterValue, float64(m.FramesDropped))
	ch <- prometheus.MustNewConstMetric(c.denied, prometheus.CounterValue, float64(m.DeniedChannels))

	if c.broadcaster != nil {
		b := c.broadcaster.Metrics()
		ch <- prometheus.MustNewConstMetric(c.published, prometheus.CounterValue, float64(b.Published))
		ch <- prometheus.MustNewConstMetric(c.publishErrors, prometheus.CounterValue, float64(b.PublishErrors))
		ch <- prometheus.MustNewConstMetric(c.relayed, prometheus.CounterValue, float64(b.Relayed))
		ch <- prometheus.MustNewConstMetric(c.decodeErrors, prometheus.CounterValue, float64(b.DecodeErrors))
	}
}
