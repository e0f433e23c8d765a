package bulletin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefine_NormalizeAndValidate(t *testing.T) {
	d := Define{
		Name:       "  daily  ",
		App:        " linux ",
		MonitorIDs: []int64{3, 1, 3},
		Metrics:    []string{"cpu$$$usage", " cpu$$$usage", "", "disk$$$usage"},
	}
	d.Normalize()

	assert.Equal(t, "daily", d.Name)
	assert.Equal(t, "linux", d.App)
	assert.Equal(t, []int64{3, 1}, d.MonitorIDs)
	assert.Equal(t, []string{"cpu$$$usage", "disk$$$usage"}, d.Metrics)
	require.NoError(t, d.Validate())
}

func TestDefine_ValidateRejects(t *testing.T) {
	base := Define{Name: "n", App: "linux", MonitorIDs: []int64{1}, Metrics: []string{"cpu$$$usage"}}

	cases := map[string]func(d *Define){
		"missing name":     func(d *Define) { d.Name = "" },
		"missing app":      func(d *Define) { d.App = "" },
		"no monitors":      func(d *Define) { d.MonitorIDs = nil },
		"bad monitor id":   func(d *Define) { d.MonitorIDs = []int64{0} },
		"no metrics":       func(d *Define) { d.Metrics = []string{} },
		"metric no field":  func(d *Define) { d.Metrics = []string{"cpu"} },
		"metric empty seg": func(d *Define) { d.Metrics = []string{"$$$usage"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := base
			d.MonitorIDs = append([]int64(nil), base.MonitorIDs...)
			d.Metrics = append([]string(nil), base.Metrics...)
			mutate(&d)
			assert.ErrorIs(t, d.Validate(), ErrInvalidDefine)
		})
	}
}

func TestDefine_SelectedFields(t *testing.T) {
	d := Define{Metrics: []string{"cpu$$$usage", "disk$$$free", "cpu$$$cores", "bogus", "a$$$b$$$c"}}
	got := d.SelectedFields()
	assert.Equal(t, []MetricFields{
		{Metric: "cpu", Fields: []string{"usage", "cores"}},
		{Metric: "disk", Fields: []string{"free"}},
		{Metric: "a$$$b", Fields: []string{"c"}},
	}, got)
}

func TestNormalizePaging(t *testing.T) {
	p, s := NormalizePaging(-1, 0, 8)
	assert.Equal(t, 0, p)
	assert.Equal(t, 8, s)

	p, s = NormalizePaging(2, 5000, 8)
	assert.Equal(t, 2, p)
	assert.Equal(t, 1000, s)
}
