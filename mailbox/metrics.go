package mailbox

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts mailbox traffic for one mailbox instance.
type Metrics struct {
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	MessagesDropped  prometheus.Counter
	Timeouts         prometheus.Counter
	BufferBytes      prometheus.Counter
	Bootstraps       *prometheus.CounterVec
}

// NewMetrics creates the collectors for the mailbox called name and, if reg
// is not nil, registers them. Several mailboxes may share one registry; they
// are told apart by the "mailbox" label.
func NewMetrics(reg prometheus.Registerer, name string) *Metrics {
	labels := prometheus.Labels{"mailbox": name}
	m := &Metrics{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mailbox_messages_sent_total",
			Help:        "Number of messages written to the outbound FIFO",
			ConstLabels: labels,
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mailbox_messages_received_total",
			Help:        "Number of messages read from the inbound FIFO and delivered",
			ConstLabels: labels,
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mailbox_messages_dropped_total",
			Help:        "Number of inbound messages discarded for carrying another channel tag",
			ConstLabels: labels,
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mailbox_timeouts_total",
			Help:        "Number of send or receive polls that exhausted their budget",
			ConstLabels: labels,
		}),
		BufferBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "mailbox_buffer_bytes_granted_total",
			Help:        "Bytes of shared memory granted to the coprocessor during bootstrap",
			ConstLabels: labels,
		}),
		Bootstraps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "mailbox_bootstraps_total",
			Help:        "Number of bootstrap runs by outcome",
			ConstLabels: labels,
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.MessagesSent,
			m.MessagesReceived,
			m.MessagesDropped,
			m.Timeouts,
			m.BufferBytes,
			m.Bootstraps,
		)
	}
	return m
}
