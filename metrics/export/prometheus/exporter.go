package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	goIdP "github.com/MrEthical07/goIdP"
	"github.com/MrEthical07/goIdP/metrics/export/internaldefs"
)

// PrometheusExporter renders provider metrics in Prometheus text exposition
// format, one series per (realm, provider).
type PrometheusExporter struct {
	source internaldefs.Source
}

// NewPrometheusExporter creates an exporter over every provider of registry.
func NewPrometheusExporter(registry *goIdP.Registry) *PrometheusExporter {
	return &PrometheusExporter{source: registry}
}

// NewPrometheusExporterFromProvider creates an exporter over a single provider.
func NewPrometheusExporterFromProvider(m goIdP.CredentialManager) *PrometheusExporter {
	return &PrometheusExporter{source: internaldefs.Single(m)}
}

// NewPrometheusExporterFromSource creates an exporter from a custom source.
func NewPrometheusExporterFromSource(source internaldefs.Source) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render writes the current metrics. Providers with metrics disabled and
// no dropped audit events are left out; with none left the output is empty.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	samples := internaldefs.Collect(p.source)
	live := samples[:0]
	for _, s := range samples {
		if !s.Empty() {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192 * len(live))

	for _, def := range internaldefs.CounterDefs {
		writeHeader(&b, def.Name, def.Help, "counter")
		for _, s := range live {
			writeSample(&b, def.Name, labels(s, ""), s.Snapshot.Counters[def.ID])
		}
	}

	for _, def := range internaldefs.HistogramDefs {
		writeHeader(&b, def.Name, def.Help, "histogram")
		for _, s := range live {
			nonCumulative := internaldefs.NormalizeBuckets(s.Snapshot.Histograms[def.ID])
			cumulative := internaldefs.CumulativeBuckets(nonCumulative)
			for i, le := range internaldefs.HistogramBounds {
				writeSample(&b, def.Name+"_bucket", labels(s, le), cumulative[i])
			}
			writeSample(&b, def.Name+"_count", labels(s, ""), cumulative[len(cumulative)-1])
			// Snapshots carry bucket counts only.
			writeSample(&b, def.Name+"_sum", labels(s, ""), 0)
		}
	}

	const dropped = "goidp_audit_dropped_total"
	writeHeader(&b, dropped, "Dropped audit events due to dispatcher backpressure.", "counter")
	for _, s := range live {
		writeSample(&b, dropped, labels(s, ""), s.AuditDropped)
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(kind)
	b.WriteByte('\n')
}

func writeSample(b *strings.Builder, name, labels string, value uint64) {
	b.WriteString(name)
	b.WriteString(labels)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func labels(s internaldefs.Sample, le string) string {
	var b strings.Builder
	b.WriteString(`{realm="`)
	b.WriteString(escapeLabel(s.Realm))
	b.WriteString(`",provider="`)
	b.WriteString(escapeLabel(s.Provider))
	b.WriteByte('"')
	if le != "" {
		b.WriteString(`,le="`)
		b.WriteString(le)
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}
