package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	goRecycle "github.com/MrEthical07/goRecycle"
	"github.com/MrEthical07/goRecycle/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

const droppedName = "gorecycle_events_dropped_total"

// metricsSource is satisfied by *goRecycle.Client and by the simulator's aggregate.
type metricsSource interface {
	MetricsSnapshot() goRecycle.MetricsSnapshot
	EventsDropped() uint64
}

// PrometheusExporter serves one source's snapshot per scrape.
type PrometheusExporter struct {
	source metricsSource
}

// NewPrometheusExporter reads from client.
func NewPrometheusExporter(client *goRecycle.Client) *PrometheusExporter {
	return &PrometheusExporter{source: client}
}

// NewPrometheusExporterFromSource reads from any snapshot source, such as a sum over
// several clients.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler answers every request with [PrometheusExporter.Render].
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(p.appendTo(nil))
	})
}

// Render returns the exposition text, or "" when the source recorded nothing because
// metrics are disabled.
func (p *PrometheusExporter) Render() string {
	return string(p.appendTo(nil))
}

func (p *PrometheusExporter) appendTo(buf []byte) []byte {
	if p == nil || p.source == nil {
		return buf
	}
	snap := p.source.MetricsSnapshot()
	dropped := p.source.EventsDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return buf
	}

	out := exposition(buf)
	for _, def := range internaldefs.CounterDefs {
		out = out.family(def.Name, "counter", def.Help).
			sample(def.Name, "", snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		out = out.histogram(def.Name, def.Help, snap.Histograms[def.ID])
	}
	out = out.family(droppedName, "counter", "Events dropped because the dispatcher buffer was full.").
		sample(droppedName, "", dropped)
	return out
}

// exposition accumulates text format lines.
type exposition []byte

func (e exposition) family(name, kind, help string) exposition {
	e = append(e, "# HELP "...)
	e = append(e, name...)
	e = append(e, ' ')
	e = append(e, escapeHelp(help)...)
	e = append(e, "\n# TYPE "...)
	e = append(e, name...)
	e = append(e, ' ')
	e = append(e, kind...)
	return append(e, '\n')
}

func (e exposition) sample(name, labels string, v uint64) exposition {
	e = append(e, name...)
	e = append(e, labels...)
	e = append(e, ' ')
	e = strconv.AppendUint(e, v, 10)
	return append(e, '\n')
}

// histogram writes per-bucket counts as the cumulative le series. The snapshot keeps
// no observation total, so _sum is always 0.
func (e exposition) histogram(name, help string, raw []uint64) exposition {
	e = e.family(name, "histogram", help)
	cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
	for i, le := range internaldefs.HistogramBounds {
		e = e.sample(name+"_bucket", `{le="`+le+`"}`, cumulative[i])
	}
	e = e.sample(name+"_count", "", cumulative[len(cumulative)-1])
	return e.sample(name+"_sum", "", 0)
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escapeHelp(help string) string {
	return helpEscaper.Replace(help)
}
