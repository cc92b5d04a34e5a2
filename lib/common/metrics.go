package common

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Metric names
// --------------------------------------------------------------------------

const (
	metricFragments      = `dfrag_fragments_total{outcome=%q}`
	metricSweptRows      = `dfrag_swept_rows_total`
	metricEncodeFrags    = `dfrag_encode_fragments`
	metricDecodeFailures = `dfrag_decode_failures_total{code=%q}`
)

// CountFragment increments the per-outcome fragment counter
// (outcome is one of waiting, duplicated, finished).
func CountFragment(outcome string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(metricFragments, outcome)).Inc()
}

// CountSwept adds n to the number of expired rows removed by sweeps.
func CountSwept(n int) {
	if n <= 0 {
		return
	}
	metrics.GetOrCreateCounter(metricSweptRows).Add(n)
}

// ObserveEncode records how many fragments one encoded message needed.
func ObserveEncode(fragments int) {
	metrics.GetOrCreateHistogram(metricEncodeFrags).Update(float64(fragments))
}

// CountDecodeFailure increments the decode failure counter for an error code.
func CountDecodeFailure(code ErrCode) {
	metrics.GetOrCreateCounter(fmt.Sprintf(metricDecodeFailures, code.String())).Inc()
}

// WriteMetrics writes all dFrag metrics in Prometheus text format.
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
