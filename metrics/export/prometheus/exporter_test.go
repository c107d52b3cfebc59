package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goIdP "github.com/MrEthical07/goIdP"
)

type fakeProvider struct {
	realm    string
	provider string
	snapshot goIdP.MetricsSnapshot
	dropped  uint64
}

func (f fakeProvider) Realm() string                         { return f.realm }
func (f fakeProvider) ProviderID() string                    { return f.provider }
func (f fakeProvider) RepositoryID() string                  { return f.provider }
func (f fakeProvider) Authority() string                     { return goIdP.AuthorityPassword }
func (f fakeProvider) MetricsSnapshot() goIdP.MetricsSnapshot { return f.snapshot }
func (f fakeProvider) AuditDropped() uint64                  { return f.dropped }
func (f fakeProvider) Close()                                {}

type fakeSource []goIdP.CredentialManager

func (f fakeSource) Providers() []goIdP.CredentialManager { return f }

func emptySnapshot() goIdP.MetricsSnapshot {
	return goIdP.MetricsSnapshot{
		Counters:   map[goIdP.MetricID]uint64{},
		Histograms: map[goIdP.MetricID][]uint64{},
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromProvider(fakeProvider{
		realm:    "acme",
		provider: "pw",
		snapshot: emptySnapshot(),
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromProvider(fakeProvider{
		realm:    "acme",
		provider: "pw",
		snapshot: goIdP.MetricsSnapshot{
			Counters: map[goIdP.MetricID]uint64{
				goIdP.MetricPasswordVerifySuccess: 7,
			},
			Histograms: map[goIdP.MetricID][]uint64{
				goIdP.MetricPasswordVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	wants := []string{
		`goidp_password_verify_success_total{realm="acme",provider="pw"} 7`,
		`goidp_password_verify_latency_seconds_bucket{realm="acme",provider="pw",le="0.005"} 1`,
		`goidp_password_verify_latency_seconds_bucket{realm="acme",provider="pw",le="+Inf"} 36`,
		`goidp_password_verify_latency_seconds_count{realm="acme",provider="pw"} 36`,
		`goidp_audit_dropped_total{realm="acme",provider="pw"} 2`,
	}
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestRenderOneSeriesPerProvider(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		fakeProvider{realm: "acme", provider: "pw", snapshot: goIdP.MetricsSnapshot{
			Counters: map[goIdP.MetricID]uint64{goIdP.MetricAccountLocked: 1},
		}},
		fakeProvider{realm: "globex", provider: "passkeys", snapshot: goIdP.MetricsSnapshot{
			Counters: map[goIdP.MetricID]uint64{goIdP.MetricWebAuthnCounterReplay: 4},
		}},
		fakeProvider{realm: "idle", provider: "off", snapshot: emptySnapshot()},
	})

	out := exp.Render()
	if strings.Count(out, "# TYPE goidp_account_locked_total counter") != 1 {
		t.Fatalf("expected a single TYPE line per metric, got:\n%s", out)
	}
	if !strings.Contains(out, `goidp_account_locked_total{realm="acme",provider="pw"} 1`) {
		t.Fatalf("missing acme series:\n%s", out)
	}
	if !strings.Contains(out, `goidp_webauthn_counter_replay_total{realm="globex",provider="passkeys"} 4`) {
		t.Fatalf("missing globex series:\n%s", out)
	}
	if strings.Contains(out, `realm="idle"`) {
		t.Fatalf("disabled provider should be skipped:\n%s", out)
	}
}

func TestLabelValuesEscaped(t *testing.T) {
	exp := NewPrometheusExporterFromProvider(fakeProvider{
		realm:    `a"b`,
		provider: "pw",
		dropped:  1,
		snapshot: emptySnapshot(),
	})
	if out := exp.Render(); !strings.Contains(out, `realm="a\"b"`) {
		t.Fatalf("expected escaped label, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromProvider(fakeProvider{
		realm:    "acme",
		provider: "pw",
		snapshot: goIdP.MetricsSnapshot{
			Counters: map[goIdP.MetricID]uint64{goIdP.MetricPasswordVerifySuccess: 1},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRegistryExporter(t *testing.T) {
	reg, err := goIdP.NewRegistry(fakeProvider{
		realm:    "acme",
		provider: "pw",
		snapshot: goIdP.MetricsSnapshot{
			Counters: map[goIdP.MetricID]uint64{goIdP.MetricPasswordSet: 2},
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	out := NewPrometheusExporter(reg).Render()
	if !strings.Contains(out, `goidp_password_set_total{realm="acme",provider="pw"} 2`) {
		t.Fatalf("expected registry series, got:\n%s", out)
	}
}
