package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	accessgate "github.com/arcveil/accessgate"
)

// Source is the slice of the engine the collector reads. *accessgate.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() accessgate.MetricsSnapshot
	AuditDropped() uint64
}

type counterDef struct {
	id   accessgate.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{accessgate.MetricAuthorizeAllow, "accessgate_authorize_allow_total", "Authorization requests that were allowed."},
	{accessgate.MetricAuthorizeDeny, "accessgate_authorize_deny_total", "Authorization requests that were denied."},
	{accessgate.MetricAuthorizeDepFailure, "accessgate_authorize_dependency_failure_total", "Authorization denies caused by unreachable dependencies."},
	{accessgate.MetricLoginSuccess, "accessgate_login_success_total", "Successful logins."},
	{accessgate.MetricLoginFailure, "accessgate_login_failure_total", "Failed login attempts."},
	{accessgate.MetricLoginRateLimited, "accessgate_login_rate_limited_total", "Logins rejected by the attempt budget."},
	{accessgate.MetricRefreshSuccess, "accessgate_refresh_success_total", "Successful session rotations."},
	{accessgate.MetricRefreshFailure, "accessgate_refresh_failure_total", "Failed refresh attempts."},
	{accessgate.MetricRefreshReuseDetected, "accessgate_refresh_reuse_detected_total", "Refresh tokens presented after rotation."},
	{accessgate.MetricSessionCreated, "accessgate_session_created_total", "Sessions established."},
	{accessgate.MetricSessionRevoked, "accessgate_session_revoked_total", "Sessions revoked individually."},
	{accessgate.MetricSessionsSwept, "accessgate_sessions_swept_total", "Expired sessions converted to revocation entries by the sweeper."},
	{accessgate.MetricLogout, "accessgate_logout_total", "Logout operations."},
	{accessgate.MetricRevokeAll, "accessgate_revoke_all_total", "Principal-wide revocations."},
	{accessgate.MetricRegisterSuccess, "accessgate_register_success_total", "Principals registered."},
	{accessgate.MetricRegisterDuplicate, "accessgate_register_duplicate_total", "Registrations rejected for identifier collision."},
	{accessgate.MetricPasswordChangeSuccess, "accessgate_password_change_success_total", "Password changes completed."},
	{accessgate.MetricPasswordChangeInvalidOld, "accessgate_password_change_invalid_old_total", "Password changes rejected for a wrong current password."},
	{accessgate.MetricPasswordChangeReuseRejected, "accessgate_password_change_reuse_rejected_total", "Password changes rejected for reusing the current password."},
	{accessgate.MetricPasswordUpgraded, "accessgate_password_upgraded_total", "Credentials rehashed with current cost parameters on login."},
	{accessgate.MetricAccountLocked, "accessgate_account_locked_total", "Logins rejected for a locked account."},
}

// Collector adapts an engine metrics snapshot to the Prometheus
// registry. Values are read at scrape time; nothing is cached.
type Collector struct {
	source        Source
	counterDescs  []*prometheus.Desc
	latencyDesc   *prometheus.Desc
	droppedDesc   *prometheus.Desc
	latencyBounds []float64
}

// NewCollector builds a collector over the given source. Register it
// with a prometheus.Registerer, or serve it directly via [Handler].
func NewCollector(source Source) *Collector {
	c := &Collector{
		source:        source,
		latencyBounds: accessgate.HistogramBounds(),
		latencyDesc: prometheus.NewDesc(
			"accessgate_authorize_duration_milliseconds",
			"Authorization evaluation latency.",
			nil, nil,
		),
		droppedDesc: prometheus.NewDesc(
			"accessgate_audit_dropped_total",
			"Decision records shed due to dispatcher backpressure.",
			nil, nil,
		),
	}
	for _, def := range counterDefs {
		c.counterDescs = append(c.counterDescs, prometheus.NewDesc(def.name, def.help, nil, nil))
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counterDescs {
		ch <- d
	}
	ch <- c.latencyDesc
	ch <- c.droppedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for i, def := range counterDefs {
		ch <- prometheus.MustNewConstMetric(
			c.counterDescs[i], prometheus.CounterValue, float64(snapshot.Counters[def.id]),
		)
	}

	if raw, ok := snapshot.Histograms[accessgate.MetricAuthorizeLatency]; ok {
		buckets := make(map[float64]uint64, len(c.latencyBounds))
		var count uint64
		for i, upper := range c.latencyBounds {
			if i < len(raw) {
				count += raw[i]
			}
			buckets[upper] = count
		}
		if len(raw) > len(c.latencyBounds) {
			count += raw[len(c.latencyBounds)]
		}
		// Per-sample sums are not tracked in the core snapshot.
		ch <- prometheus.MustNewConstHistogram(c.latencyDesc, count, 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// Handler registers the collector on a fresh registry and returns a
// scrape handler.
func Handler(source Source) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(source))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
