package bulletin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrDefineExists   = errors.New("bulletin define already exists")
	ErrDefineNotFound = errors.New("bulletin define not found")
	ErrInvalidDefine  = errors.New("invalid bulletin define")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("metrickey", validateMetricKey)
	return v
}

// validateMetricKey accepts metric$$$field keys with non-empty segments.
func validateMetricKey(fl validator.FieldLevel) bool {
	metric, field, ok := strings.Cut(fl.Field().String(), KeySeparator)
	return ok && strings.TrimSpace(metric) != "" && strings.TrimSpace(field) != ""
}

// Define is a saved bulletin configuration: which application, which metric
// fields and which monitors feed one report tab.
type Define struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name" validate:"required,max=128"`
	App        string     `json:"app" validate:"required,max=100"`
	MonitorIDs []int64    `json:"monitorIds" validate:"required,min=1,dive,gt=0"`
	Metrics    []string   `json:"metrics" validate:"required,min=1,dive,metrickey"`
	Creator    string     `json:"creator,omitempty"`
	Modifier   string     `json:"modifier,omitempty"`
	CreatedAt  *time.Time `json:"gmtCreate,omitempty"`
	UpdatedAt  *time.Time `json:"gmtUpdate,omitempty"`
}

// Normalize trims names and drops duplicate selections while keeping order.
func (d *Define) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	d.App = strings.TrimSpace(d.App)

	ids := make([]int64, 0, len(d.MonitorIDs))
	seenIDs := make(map[int64]struct{}, len(d.MonitorIDs))
	for _, id := range d.MonitorIDs {
		if _, ok := seenIDs[id]; ok {
			continue
		}
		seenIDs[id] = struct{}{}
		ids = append(ids, id)
	}
	d.MonitorIDs = ids

	metrics := make([]string, 0, len(d.Metrics))
	seen := make(map[string]struct{}, len(d.Metrics))
	for _, m := range d.Metrics {
		m = strings.TrimSpace(m)
		if _, ok := seen[m]; ok || m == "" {
			continue
		}
		seen[m] = struct{}{}
		metrics = append(metrics, m)
	}
	d.Metrics = metrics
}

// Validate checks the define after normalization.
func (d Define) Validate() error {
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: field %s failed %q", ErrInvalidDefine, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidDefine, err)
	}
	return nil
}

// MetricFields pairs a metric with the field keys selected for it.
type MetricFields struct {
	Metric string
	Fields []string
}

// SelectedFields groups the define's metric$$$field keys by metric in
// first-seen order. Keys deeper than two segments keep the last segment as
// field and the rest as metric.
func (d Define) SelectedFields() []MetricFields {
	index := map[string]int{}
	out := make([]MetricFields, 0)
	for _, key := range d.Metrics {
		pos := strings.LastIndex(key, KeySeparator)
		if pos <= 0 {
			continue
		}
		metric, field := key[:pos], key[pos+len(KeySeparator):]
		if field == "" {
			continue
		}
		i, ok := index[metric]
		if !ok {
			i = len(out)
			index[metric] = i
			out = append(out, MetricFields{Metric: metric})
		}
		out[i].Fields = append(out[i].Fields, field)
	}
	return out
}

// Monitor is a monitored instance as listed by the manager.
type Monitor struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	App    string `json:"app"`
	Host   string `json:"host"`
	Status int    `json:"status"`
}

// Page is the paged list payload used by every list endpoint.
type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"totalElements"`
}

// DefineStore persists bulletin definitions.
type DefineStore interface {
	ListDefines(ctx context.Context, page, size int) (Page[Define], error)
	GetDefine(ctx context.Context, id int64) (*Define, error)
	CreateDefine(ctx context.Context, def Define) (int64, error)
	UpdateDefine(ctx context.Context, def Define) error
	DeleteDefines(ctx context.Context, names []string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// StoreStats is a lightweight health and volume report of a define store.
type StoreStats struct {
	PingMS        int64 `json:"ping_ms"`
	UptimeSeconds int64 `json:"uptime_seconds,omitempty"`
	DefinesTotal  int64 `json:"defines_total"`
	AppsTotal     int64 `json:"apps_total,omitempty"`
}

// StatsReporter is implemented by stores that can report StoreStats.
type StatsReporter interface {
	ServiceStats(ctx context.Context) (*StoreStats, error)
}

// NormalizePaging clamps zero-based page and size to sane values.
func NormalizePaging(page, size, defaultSize int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultSize
	}
	if size > 1000 {
		size = 1000
	}
	return page, size
}
