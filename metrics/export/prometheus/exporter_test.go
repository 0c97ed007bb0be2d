package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/twofactor"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeSource struct {
	snapshot twofactor.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() twofactor.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                       { return f.dropped }

func TestCollectorGathersCounters(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: twofactor.MetricsSnapshot{
			Counters: map[twofactor.MetricID]uint64{
				twofactor.MetricBackupCodeUsed: 7,
			},
		},
		dropped: 2,
	})

	reg := prometheus.NewRegistry()
	if err := reg.Register(exp); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	got := map[string]float64{}
	for _, mf := range families {
		if len(mf.GetMetric()) == 0 {
			continue
		}
		got[mf.GetName()] = mf.GetMetric()[0].GetCounter().GetValue()
	}
	if got["twofactor_backup_code_used_total"] != 7 {
		t.Fatalf("expected backup_code_used 7, got %v", got["twofactor_backup_code_used_total"])
	}
	if got["twofactor_audit_dropped_total"] != 2 {
		t.Fatalf("expected audit dropped 2, got %v", got["twofactor_audit_dropped_total"])
	}
	if v, ok := got["twofactor_lockout_triggered_total"]; !ok || v != 0 {
		t.Fatalf("expected zero-valued lockout counter, got %v (present=%v)", v, ok)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: twofactor.MetricsSnapshot{
			Counters: map[twofactor.MetricID]uint64{
				twofactor.MetricVerificationFailure: 4,
			},
		},
	})

	srv := httptest.NewServer(exp.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "twofactor_verification_failure_total 4") {
		t.Fatalf("expected verification failure counter in output, got:\n%s", body)
	}
}
