package controller

import (
	"time"

	"github.com/littledino2112/universal-clipboard/session"
)

// MetricsRecorder is the narrow set of counters the controller reports
// across pairing, reconnection, and bounded auto-reconnect, satisfied by
// *statusapi.Metrics's Recorder adapter. Defined here rather than consumed
// directly from statusapi, since statusapi already imports controller for
// Server.ctrl and the reverse import would cycle.
type MetricsRecorder interface {
	session.Metrics
	HandshakeAttempt(pattern string)
	HandshakeFailure(pattern string)
	ReconnectAttempt()
}

type noopMetrics struct{}

func (noopMetrics) HandshakeAttempt(string)             {}
func (noopMetrics) HandshakeFailure(string)             {}
func (noopMetrics) ReconnectAttempt()                   {}
func (noopMetrics) BytesSent(int)                       {}
func (noopMetrics) BytesReceived(int)                   {}
func (noopMetrics) ImageTransferObserved(time.Duration) {}
