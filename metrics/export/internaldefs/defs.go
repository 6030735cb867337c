package internaldefs

import (
	goRecycle "github.com/MrEthical07/goRecycle"
)

// CounterDef names one goRecycle counter for exporters.
type CounterDef struct {
	ID   goRecycle.MetricID
	Name string
	Help string
}

// HistogramDef names one goRecycle histogram for exporters.
type HistogramDef struct {
	ID   goRecycle.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goRecycle.MetricSessionOpened, Name: "gorecycle_session_opened_total", Help: "Recycling sessions opened."},
	{ID: goRecycle.MetricSessionRestored, Name: "gorecycle_session_restored_total", Help: "Sessions restored from a persisted snapshot."},
	{ID: goRecycle.MetricSessionExpired, Name: "gorecycle_session_expired_total", Help: "Sessions whose countdown reached zero."},
	{ID: goRecycle.MetricSessionClosed, Name: "gorecycle_session_closed_total", Help: "Sessions closed for any reason."},
	{ID: goRecycle.MetricSessionStartRejected, Name: "gorecycle_session_start_rejected_total", Help: "Session starts stopped by a gate or the backend."},
	{ID: goRecycle.MetricScanAccepted, Name: "gorecycle_scan_accepted_total", Help: "Scans confirmed by the backend."},
	{ID: goRecycle.MetricScanDuplicateAllowed, Name: "gorecycle_scan_duplicate_allowed_total", Help: "Duplicate scans accepted after proof."},
	{ID: goRecycle.MetricScanProofRequired, Name: "gorecycle_scan_proof_required_total", Help: "Scans that entered proof capture."},
	{ID: goRecycle.MetricScanRejected, Name: "gorecycle_scan_rejected_total", Help: "Scans rejected by the backend."},
	{ID: goRecycle.MetricScanIgnored, Name: "gorecycle_scan_ignored_total", Help: "Scans dropped while busy or capturing proof."},
	{ID: goRecycle.MetricScanDiscarded, Name: "gorecycle_scan_discarded_total", Help: "Backend answers discarded after the session closed."},
	{ID: goRecycle.MetricProofUploaded, Name: "gorecycle_proof_uploaded_total", Help: "Proof photos accepted."},
	{ID: goRecycle.MetricProofRejected, Name: "gorecycle_proof_rejected_total", Help: "Proof photos rejected."},
	{ID: goRecycle.MetricAuthInvalidated, Name: "gorecycle_auth_invalidated_total", Help: "Credentials invalidated by a 401."},
	{ID: goRecycle.MetricNetworkOnline, Name: "gorecycle_network_online_total", Help: "Transitions to online."},
	{ID: goRecycle.MetricNetworkNoInternet, Name: "gorecycle_network_no_internet_total", Help: "Transitions to no internet."},
	{ID: goRecycle.MetricNetworkServiceUnavailable, Name: "gorecycle_network_service_unavailable_total", Help: "Transitions to service unavailable."},
	{ID: goRecycle.MetricPersistenceFailure, Name: "gorecycle_persistence_failure_total", Help: "Failed snapshot store operations."},
}

var HistogramDefs = []HistogramDef{
	{ID: goRecycle.MetricSubmitLatency, Name: "gorecycle_submit_latency_seconds", Help: "Round-trip of item submissions and proof uploads."},
}

// HistogramBounds are the upper bounds, in seconds, of the latency buckets.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable inside metric names.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
