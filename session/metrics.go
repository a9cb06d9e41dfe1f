package session

import "time"

// Metrics is the narrow set of counters and observations the writer and
// dispatcher report as they move application-layer bytes, satisfied by
// *statusapi.Metrics (via its Recorder adapter) without this package
// importing statusapi.
type Metrics interface {
	BytesSent(n int)
	BytesReceived(n int)
	ImageTransferObserved(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) BytesSent(int)                       {}
func (noopMetrics) BytesReceived(int)                   {}
func (noopMetrics) ImageTransferObserved(time.Duration) {}
