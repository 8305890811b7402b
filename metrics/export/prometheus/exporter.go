package prometheus

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/loanflow/gatekeeper"
	"github.com/loanflow/gatekeeper/metrics/export/internaldefs"
)

// Source is what the exporter reads. *gatekeeper.Engine satisfies it.
type Source interface {
	MetricsSnapshot() gatekeeper.MetricsSnapshot
	AuditDropped() uint64
	NotificationsDropped() uint64
}

type gauge struct {
	name string
	help string
	read func() int
}

// Exporter renders a Source on demand.
type Exporter struct {
	source Source

	mu     sync.RWMutex
	gauges []gauge
}

func NewExporter(source Source) *Exporter {
	return &Exporter{source: source}
}

// AddGauge appends a gauge sampled on every scrape, such as the number of
// live rate limiter buckets.
func (p *Exporter) AddGauge(name, help string, read func() int) {
	p.mu.Lock()
	p.gauges = append(p.gauges, gauge{name: name, help: help, read: read})
	p.mu.Unlock()
}

func (p *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the exposition text. It is empty when the engine collects
// no metrics and nothing was dropped.
func (p *Exporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	auditDropped := p.source.AuditDropped()
	mailDropped := p.source.NotificationsDropped()

	p.mu.RLock()
	gauges := append([]gauge(nil), p.gauges...)
	p.mu.RUnlock()

	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 &&
		auditDropped == 0 && mailDropped == 0 && len(gauges) == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	if len(snapshot.Counters) > 0 {
		for _, def := range internaldefs.CounterDefs {
			writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
		}
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		writeHistogram(&b, def.Name, def.Help, cumulative)
	}

	writeCounter(&b, "gatekeeper_audit_dropped_total", "Audit events dropped because the dispatcher buffer was full.", auditDropped)
	writeCounter(&b, "gatekeeper_notification_dropped_total", "Notifications dropped because the mail queue was full.", mailDropped)

	for _, g := range gauges {
		writeGauge(&b, g.name, g.help, g.read())
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

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	writeHeader(b, name, help, "counter")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func writeGauge(b *strings.Builder, name, help string, value int) {
	writeHeader(b, name, help, "gauge")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(value))
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, cumulative [8]uint64) {
	writeHeader(b, name, help, "histogram")

	for i, le := range internaldefs.HistogramBounds {
		b.WriteString(name)
		b.WriteString("_bucket{le=\"")
		b.WriteString(le)
		b.WriteString("\"} ")
		b.WriteString(strconv.FormatUint(cumulative[i], 10))
		b.WriteByte('\n')
	}

	b.WriteString(name)
	b.WriteString("_count ")
	b.WriteString(strconv.FormatUint(cumulative[len(cumulative)-1], 10))
	b.WriteByte('\n')

	// Samples are bucketed only, so the sum is unknown.
	b.WriteString(name)
	b.WriteString("_sum 0\n")
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
