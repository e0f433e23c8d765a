package bulletin

import (
	"encoding/json"
	"sort"
	"strings"
)

// FieldValue is one measured field of a metric.
type FieldValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Unit  string `json:"unit"`
}

// MetricSample groups the field rows reported for one metric. Each inner
// slice is one measurement (e.g. one disk partition).
type MetricSample struct {
	Name   string         `json:"name"`
	Fields [][]FieldValue `json:"fields"`
}

// SampleContent is the per-host payload of a report sample.
type SampleContent struct {
	MonitorID int64          `json:"monitorId"`
	Host      string         `json:"host"`
	Metrics   []MetricSample `json:"metrics"`
}

// ReportSample is one host's metrics for one bulletin definition.
type ReportSample struct {
	ID      int64         `json:"id"`
	Name    string        `json:"name"`
	App     string        `json:"app"`
	Content SampleContent `json:"content"`
}

// ReportRow is one host row of a report tab. Values maps a column key to the
// stacked "value$$$unit" cells in arrival order.
type ReportRow struct {
	App       string
	MonitorID int64
	Host      string
	Values    map[string][]string
}

// MarshalJSON flattens the column values next to the row identity.
func (r ReportRow) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Values)+3)
	for k, v := range r.Values {
		out[k] = v
	}
	out["app"] = r.App
	out["monitorId"] = r.MonitorID
	out["host"] = r.Host
	return json.Marshal(out)
}

// Cell returns the r-th stacked value of a column, or "" past its length.
func (r ReportRow) Cell(key string, idx int) string {
	vals := r.Values[key]
	if idx < 0 || idx >= len(vals) {
		return ""
	}
	return vals[idx]
}

// ReportTab is one report definition's pivoted table.
type ReportTab struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
	// BulletinColumn maps a metric name to its column keys in first-seen order.
	BulletinColumn map[string][]string `json:"bulletinColumn"`
	// Metrics lists the keys of BulletinColumn in first-seen order.
	Metrics        []string            `json:"metrics"`
	Data           []ReportRow         `json:"data"`
}

// MetricNames lists the tab's metrics in first-seen order.
func (t ReportTab) MetricNames() []string {
	if len(t.Metrics) == len(t.BulletinColumn) {
		return append([]string(nil), t.Metrics...)
	}
	// tabs built by hand may carry no order
	names := make([]string, 0, len(t.BulletinColumn))
	for name := range t.BulletinColumn {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ColumnKeys lists every column key of the tab grouped by metric.
func (t ReportTab) ColumnKeys() []string {
	var keys []string
	for _, m := range t.MetricNames() {
		keys = append(keys, t.BulletinColumn[m]...)
	}
	return keys
}

// MaxRowSpan is the number of rendered rows for one data row: the longest
// stacked column, never less than one.
func (t ReportTab) MaxRowSpan(row ReportRow) int {
	span := 1
	for _, m := range t.MetricNames() {
		for _, key := range t.BulletinColumn[m] {
			if n := len(row.Values[key]); n > span {
				span = n
			}
		}
	}
	return span
}

// RowIndexes returns 0..MaxRowSpan-1 for template iteration.
func (t ReportTab) RowIndexes(row ReportRow) []int {
	span := t.MaxRowSpan(row)
	out := make([]int, span)
	for i := range out {
		out[i] = i
	}
	return out
}

type tabBuilder struct {
	tab  *ReportTab
	seen map[string]struct{}
}

// Aggregate groups samples by report name. Tabs come out in first-seen name
// order and the first sample of a name supplies the tab id.
func Aggregate(samples []ReportSample) []ReportTab {
	groups := make(map[string]*tabBuilder)
	order := make([]string, 0)

	for _, sample := range samples {
		g, ok := groups[sample.Name]
		if !ok {
			g = &tabBuilder{
				tab: &ReportTab{
					Name:           sample.Name,
					ID:             sample.ID,
					BulletinColumn: map[string][]string{},
					Data:           []ReportRow{},
				},
				seen: map[string]struct{}{},
			}
			groups[sample.Name] = g
			order = append(order, sample.Name)
		}

		row := ReportRow{
			App:       sample.App,
			MonitorID: sample.Content.MonitorID,
			Host:      sample.Content.Host,
			Values:    map[string][]string{},
		}
		for _, metric := range sample.Content.Metrics {
			if _, ok := g.tab.BulletinColumn[metric.Name]; !ok {
				g.tab.BulletinColumn[metric.Name] = []string{}
				g.tab.Metrics = append(g.tab.Metrics, metric.Name)
			}
			for _, field := range metric.Fields {
				for _, item := range field {
					key := ColumnKey(metric.Name, item.Key)
					row.Values[key] = append(row.Values[key], JoinCell(item.Value, item.Unit))
					if _, dup := g.seen[key]; !dup {
						g.seen[key] = struct{}{}
						g.tab.BulletinColumn[metric.Name] = append(g.tab.BulletinColumn[metric.Name], key)
					}
				}
			}
		}
		g.tab.Data = append(g.tab.Data, row)
	}

	tabs := make([]ReportTab, 0, len(order))
	for _, name := range order {
		tabs = append(tabs, *groups[name].tab)
	}
	return tabs
}

// ColumnKey builds the pivot column key metric$$$field.
func ColumnKey(metric, field string) string {
	return metric + KeySeparator + field
}

// JoinCell encodes a stacked cell as value$$$unit.
func JoinCell(value, unit string) string {
	return value + KeySeparator + unit
}

// SplitCell decodes a value$$$unit cell. Blank cells split to empty strings.
func SplitCell(cell string) (value, unit string) {
	value, unit, _ = strings.Cut(cell, KeySeparator)
	return value, unit
}

// FieldName strips the metric prefix from a column key.
func FieldName(key string) string {
	if _, field, ok := strings.Cut(key, KeySeparator); ok {
		return field
	}
	return key
}
