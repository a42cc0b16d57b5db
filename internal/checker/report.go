// Package checker implements the liveness and reachability prober
// pipeline (spec.md §4.8): a pool of workers pops proxy strategies off
// a shared stack, probes each with Liveness and then, if alive, with
// the configured Basic/Http probers, producing precedence-sorted
// reports per strategy.
package checker

import (
	"fmt"
	"time"

	"github.com/proxyworks/tunelo/internal/hostaddr"
)

// ProberKind tags which prober produced a Report. Its ordering IS the
// precedence order spec.md §4.8 names: Liveness < Basic < Http.
type ProberKind int

const (
	ProberLiveness ProberKind = iota
	ProberBasic
	ProberHTTP
)

func (k ProberKind) String() string {
	switch k {
	case ProberLiveness:
		return "liveness"
	case ProberBasic:
		return "basic"
	case ProberHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Report is one prober's outcome against one proxy strategy. A timeout
// is recorded as a typed field, not returned as an error, per spec.md
// §4.8 "a timeout becomes a typed TimeoutError in the report".
type Report struct {
	Prober  ProberKind
	OK      bool
	Timeout bool
	Err     error

	// Destination and RTT are populated by BasicProber, supplementing
	// spec.md's ok/error-only report per original_source's TaskReport.
	Destination hostaddr.HostAddress
	RTT         time.Duration

	// ResponseCode is populated by HTTPProber.
	ResponseCode int
}

// String renders a Report for log output. The proxy-checker command
// prints each report with String and uses github.com/dustin/go-humanize
// only for its summary counts.
func (r Report) String() string {
	status := "ok"
	switch {
	case r.Timeout:
		status = "timeout"
	case !r.OK:
		status = "failed"
	}

	switch r.Prober {
	case ProberBasic:
		return fmt.Sprintf("basic(%s): %s, rtt=%s", r.Destination.String(), status, r.RTT)
	case ProberHTTP:
		return fmt.Sprintf("http: %s, status=%d", status, r.ResponseCode)
	default:
		return fmt.Sprintf("liveness: %s", status)
	}
}

// ProxyReport bundles every prober's Report for one proxy strategy,
// sorted by ProberKind precedence.
type ProxyReport struct {
	Strategy hostaddr.ProxyStrategy
	Reports  []Report
}

// Alive reports whether the leading Liveness report succeeded.
func (p ProxyReport) Alive() bool {
	return len(p.Reports) > 0 && p.Reports[0].Prober == ProberLiveness && p.Reports[0].OK
}
