package bulletin

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// MetricField describes one column of a monitor metric collection.
type MetricField struct {
	Name  string `json:"name"`
	Type  int    `json:"type"`
	Unit  string `json:"unit"`
	Label bool   `json:"label"`
}

// MetricValue is one cell of a collected value row.
type MetricValue struct {
	Origin string `json:"origin"`
}

// MetricValueRow is one collected row, aligned with MetricData.Fields.
type MetricValueRow struct {
	Labels map[string]string `json:"labels,omitempty"`
	Values []MetricValue     `json:"values"`
}

// MetricData is the latest collection of one metric on one monitor.
type MetricData struct {
	ID        int64            `json:"id"`
	App       string           `json:"app"`
	Metrics   string           `json:"metrics"`
	Time      int64            `json:"time"`
	Fields    []MetricField    `json:"fields"`
	ValueRows []MetricValueRow `json:"valueRows"`
}

// MetricSource reads monitors and their latest metric data.
type MetricSource interface {
	ListMonitorsForApp(ctx context.Context, app string) ([]Monitor, error)
	GetMonitorMetricData(ctx context.Context, monitorID int64, metric string) (*MetricData, error)
}

// Collector turns bulletin defines into report samples.
type Collector struct {
	source MetricSource
	log    logrus.FieldLogger
}

func NewCollector(source MetricSource, log logrus.FieldLogger) *Collector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Collector{source: source, log: log}
}

// Collect builds one sample per (define, monitor) in define order. A metric
// that fails to load is left out of that host's sample; a failure to list the
// application's monitors aborts the run.
func (c *Collector) Collect(ctx context.Context, defines []Define) ([]ReportSample, error) {
	out := make([]ReportSample, 0)
	monitorsByApp := map[string]map[int64]Monitor{}

	for _, def := range defines {
		monitors, ok := monitorsByApp[def.App]
		if !ok {
			list, err := c.source.ListMonitorsForApp(ctx, def.App)
			if err != nil {
				return nil, fmt.Errorf("list monitors for app %s: %w", def.App, err)
			}
			monitors = make(map[int64]Monitor, len(list))
			for _, m := range list {
				monitors[m.ID] = m
			}
			monitorsByApp[def.App] = monitors
		}

		selected := def.SelectedFields()
		for _, monitorID := range def.MonitorIDs {
			mon, ok := monitors[monitorID]
			if !ok {
				c.log.WithFields(logrus.Fields{"define": def.Name, "monitor_id": monitorID}).Warn("monitor not found for bulletin define")
				continue
			}
			sample := ReportSample{
				ID:   def.ID,
				Name: def.Name,
				App:  def.App,
				Content: SampleContent{
					MonitorID: mon.ID,
					Host:      mon.Host,
					Metrics:   make([]MetricSample, 0, len(selected)),
				},
			}
			for _, sel := range selected {
				data, err := c.source.GetMonitorMetricData(ctx, mon.ID, sel.Metric)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					c.log.WithFields(logrus.Fields{
						"define":     def.Name,
						"monitor_id": mon.ID,
						"metric":     sel.Metric,
					}).WithError(err).Warn("failed to load monitor metric data")
					continue
				}
				sample.Content.Metrics = append(sample.Content.Metrics, MetricSample{
					Name:   sel.Metric,
					Fields: pickFields(data, sel.Fields),
				})
			}
			out = append(out, sample)
		}
	}
	return out, nil
}

// pickFields projects each value row onto the selected fields.
func pickFields(data *MetricData, fields []string) [][]FieldValue {
	rows := make([][]FieldValue, 0)
	if data == nil {
		return rows
	}
	index := make(map[string]int, len(data.Fields))
	for i, f := range data.Fields {
		index[f.Name] = i
	}
	for _, vr := range data.ValueRows {
		row := make([]FieldValue, 0, len(fields))
		for _, name := range fields {
			i, ok := index[name]
			if !ok || i >= len(vr.Values) {
				continue
			}
			row = append(row, FieldValue{
				Key:   name,
				Value: vr.Values[i].Origin,
				Unit:  data.Fields[i].Unit,
			})
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return rows
}
