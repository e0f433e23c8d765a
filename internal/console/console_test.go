package console

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-monitor-bulletin/internal/bulletin"
	"go-monitor-bulletin/internal/connectors/manager"
)

type fakeService struct {
	loadCalls   [][2]int
	loadErr     error
	samples     []bulletin.ReportSample
	total       int64
	created     []bulletin.Define
	updated     []bulletin.Define
	deleted     [][]string
	mutateErr   error
	apps        map[string]string
	monitors    []bulletin.Monitor
	hierarchy   []bulletin.HierarchyNode
	lookupErr   error
	lookupLangs []string
	nullData    bool
}

func (f *fakeService) ListDefines(context.Context, int, int) (bulletin.Page[bulletin.Define], error) {
	return bulletin.Page[bulletin.Define]{}, nil
}

func (f *fakeService) CreateDefine(_ context.Context, def bulletin.Define) error {
	f.created = append(f.created, def)
	return f.mutateErr
}

func (f *fakeService) UpdateDefine(_ context.Context, def bulletin.Define) error {
	f.updated = append(f.updated, def)
	return f.mutateErr
}

func (f *fakeService) DeleteDefines(_ context.Context, names []string) error {
	f.deleted = append(f.deleted, names)
	return f.mutateErr
}

func (f *fakeService) ListApplications(_ context.Context, lang string) (map[string]string, error) {
	f.lookupLangs = append(f.lookupLangs, lang)
	return f.apps, f.lookupErr
}

func (f *fakeService) ListMonitorsForApp(context.Context, string) ([]bulletin.Monitor, error) {
	return f.monitors, f.lookupErr
}

func (f *fakeService) GetApplicationHierarchy(_ context.Context, lang, _ string) ([]bulletin.HierarchyNode, error) {
	f.lookupLangs = append(f.lookupLangs, lang)
	return f.hierarchy, f.lookupErr
}

func (f *fakeService) GetReportMetricData(_ context.Context, page, size int) (*bulletin.Page[bulletin.ReportSample], error) {
	f.loadCalls = append(f.loadCalls, [2]int{page, size})
	if f.loadErr != nil || f.nullData {
		return nil, f.loadErr
	}
	return &bulletin.Page[bulletin.ReportSample]{Content: f.samples, TotalElements: f.total}, nil
}

type note struct {
	level, title, content string
}

type fakeNotifier struct {
	notes []note
}

func (n *fakeNotifier) Success(_ context.Context, title, content string) {
	n.notes = append(n.notes, note{"success", title, content})
}

func (n *fakeNotifier) Warning(_ context.Context, title, content string) {
	n.notes = append(n.notes, note{"warning", title, content})
}

func (n *fakeNotifier) Error(_ context.Context, title, content string) {
	n.notes = append(n.notes, note{"error", title, content})
}

type keyTranslator struct{}

func (keyTranslator) Lang() string       { return "zh-CN" }
func (keyTranslator) T(key string) string { return key }

func newTestBulletin() (*Bulletin, *fakeService, *fakeNotifier) {
	svc := &fakeService{}
	n := &fakeNotifier{}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(svc, n, keyTranslator{}, log), svc, n
}

func hierarchyFixture() []bulletin.HierarchyNode {
	return []bulletin.HierarchyNode{{
		Value: "linux",
		Children: []bulletin.HierarchyNode{{
			Value: "cpu",
			Label: "CPU",
			Children: []bulletin.HierarchyNode{
				{Value: "usage", Label: "Usage", IsLeaf: true},
				{Value: "cores", Label: "Cores", IsLeaf: true},
			},
		}},
	}}
}

func TestInit_LoadsFirstPageAndBuildsTabs(t *testing.T) {
	b, svc, _ := newTestBulletin()
	svc.total = 1
	svc.samples = []bulletin.ReportSample{{
		ID: 1, Name: "daily", App: "linux",
		Content: bulletin.SampleContent{MonitorID: 7, Host: "h1", Metrics: []bulletin.MetricSample{{
			Name:   "cpu",
			Fields: [][]bulletin.FieldValue{{{Key: "usage", Value: "12"}}},
		}}},
	}}

	assert.True(t, b.TableLoading)
	b.Init(context.Background())

	assert.Equal(t, [][2]int{{0, DefaultPageSize}}, svc.loadCalls)
	assert.False(t, b.TableLoading)
	assert.Equal(t, int64(1), b.Total)
	require.Len(t, b.Tabs, 1)
	assert.Equal(t, "daily", b.Tabs[0].Name)
}

func TestLoadData_FailureWarnsWithServerMessage(t *testing.T) {
	b, svc, n := newTestBulletin()
	svc.loadErr = &manager.EnvelopeError{Code: 1, Msg: "boom"}

	b.LoadData(context.Background(), 0, 8)

	assert.False(t, b.TableLoading)
	require.Len(t, n.notes, 1)
	assert.Equal(t, note{"warning", "boom", ""}, n.notes[0])
}

func TestLoadData_NullDataKeepsTabs(t *testing.T) {
	b, svc, n := newTestBulletin()
	svc.total = 1
	svc.samples = []bulletin.ReportSample{{
		ID: 1, Name: "daily", App: "linux",
		Content: bulletin.SampleContent{MonitorID: 7, Host: "h1", Metrics: []bulletin.MetricSample{{
			Name:   "cpu",
			Fields: [][]bulletin.FieldValue{{{Key: "usage", Value: "12"}}},
		}}},
	}}
	b.Init(context.Background())
	require.Len(t, b.Tabs, 1)

	svc.nullData = true
	b.LoadData(context.Background(), 0, 8)

	assert.False(t, b.TableLoading)
	assert.Equal(t, int64(1), b.Total)
	assert.Len(t, b.Tabs, 1)
	assert.Empty(t, n.notes)
}

func TestOnTablePageChange_SameStateDoesNotReload(t *testing.T) {
	b, svc, _ := newTestBulletin()

	b.OnTablePageChange(context.Background(), 1, DefaultPageSize)
	assert.Empty(t, svc.loadCalls)

	b.OnTablePageChange(context.Background(), 3, DefaultPageSize)
	assert.Equal(t, [][2]int{{2, DefaultPageSize}}, svc.loadCalls)
	assert.Equal(t, 3, b.PageIndex)
}

func TestDeleteDefines_EmptySelectionWarnsOnly(t *testing.T) {
	b, svc, n := newTestBulletin()

	b.DeleteDefines(context.Background(), nil)

	assert.Empty(t, svc.deleted)
	assert.Empty(t, svc.loadCalls)
	assert.Equal(t, []note{{"warning", "common.notify.no-select-delete", ""}}, n.notes)
}

func TestDeleteDefines_SuccessReloads(t *testing.T) {
	b, svc, n := newTestBulletin()
	b.SelectedNames = []string{"daily"}
	b.OnDeleteDefines()
	assert.True(t, b.DeleteModalVisible)

	b.OnDeleteModalOk(context.Background())

	assert.Equal(t, [][]string{{"daily"}}, svc.deleted)
	assert.Len(t, svc.loadCalls, 1)
	assert.False(t, b.DeleteModalVisible)
	assert.Empty(t, b.SelectedNames)
	assert.Equal(t, "success", n.notes[0].level)
	assert.Equal(t, "common.notify.delete-success", n.notes[0].title)
}

func TestDeleteDefines_FailureResetsLoading(t *testing.T) {
	b, svc, n := newTestBulletin()
	svc.mutateErr = &manager.EnvelopeError{Code: 1, Msg: "in use"}

	b.DeleteDefines(context.Background(), []string{"daily"})

	assert.False(t, b.TableLoading)
	assert.Empty(t, svc.loadCalls)
	assert.Equal(t, []note{{"error", "common.notify.delete-fail", "in use"}}, n.notes)
}

func TestManageModal_CreateSuccess(t *testing.T) {
	b, svc, n := newTestBulletin()
	b.OnNewDefine()
	assert.True(t, b.ManageModalAdd)
	assert.True(t, b.ManageModalVisible)

	b.Define.Name = " daily "
	b.Define.App = "linux"
	b.Define.MonitorIDs = []int64{1}
	b.Define.Metrics = []string{"cpu$$$usage"}
	b.OnManageModalOk(context.Background())

	require.Len(t, svc.created, 1)
	assert.Equal(t, "daily", svc.created[0].Name)
	assert.False(t, b.ManageModalVisible)
	assert.False(t, b.ManageModalOkLoading)
	assert.Len(t, svc.loadCalls, 1)
	assert.Equal(t, note{"success", "common.notify.new-success", ""}, n.notes[0])
}

func TestManageModal_EditFailureKeepsModalOpen(t *testing.T) {
	b, svc, n := newTestBulletin()
	svc.mutateErr = errors.New("dial tcp: refused")
	svc.hierarchy = hierarchyFixture()

	b.OnEditDefine(context.Background(), bulletin.Define{ID: 4, Name: "daily", App: "linux", MonitorIDs: []int64{1}, Metrics: []string{"cpu$$$usage"}})
	assert.False(t, b.ManageModalAdd)
	assert.NotEmpty(t, b.Hierarchies)
	assert.True(t, b.Transferred(2))
	assert.False(t, b.Transferred(3))

	b.OnManageModalOk(context.Background())

	require.Len(t, svc.updated, 1)
	assert.True(t, b.ManageModalVisible)
	assert.False(t, b.ManageModalOkLoading)
	assert.Empty(t, svc.loadCalls)
	assert.Equal(t, note{"error", "common.notify.edit-fail", "dial tcp: refused"}, n.notes[0])
}

func TestManageModalCancel(t *testing.T) {
	b, _, _ := newTestBulletin()
	b.OnNewDefine()
	b.OnManageModalCancel()
	assert.False(t, b.ManageModalVisible)
}

func TestSearchAppDefines_SortedEntriesAndLang(t *testing.T) {
	b, svc, _ := newTestBulletin()
	svc.apps = map[string]string{"redis": "Redis", "linux": "Linux"}

	b.SearchAppDefines(context.Background())

	assert.True(t, b.AppListLoaded)
	assert.Equal(t, []AppEntry{{"linux", "Linux"}, {"redis", "Redis"}}, b.AppEntries)
	assert.Equal(t, []string{"zh-CN"}, svc.lookupLangs)
}

func TestOnAppChange_EmptyClearsTree(t *testing.T) {
	b, svc, _ := newTestBulletin()
	svc.hierarchy = hierarchyFixture()
	svc.monitors = []bulletin.Monitor{{ID: 1}}

	b.OnAppChange(context.Background(), "linux")
	assert.Len(t, b.Hierarchies, 3)
	assert.Len(t, b.TreeNodes, 1)
	assert.True(t, b.MonitorsLoaded)

	b.OnAppChange(context.Background(), "")
	assert.Empty(t, b.Hierarchies)
	assert.Empty(t, b.TreeNodes)
}

func TestCheckNodeAndTransfer(t *testing.T) {
	b, svc, _ := newTestBulletin()
	svc.hierarchy = hierarchyFixture()
	b.OnNewDefine()
	b.SearchTreeNodes(context.Background(), "linux")

	// id 1 is the disabled root "cpu"
	_, ok := b.CheckNode(1, true)
	assert.False(t, ok)

	item, ok := b.CheckNode(2, true)
	require.True(t, ok)
	assert.Equal(t, "cpu$$$usage", item.Key)
	_, ok = b.CheckNode(3, true)
	require.True(t, ok)
	_, _ = b.CheckNode(3, false)
	assert.Equal(t, []int{2}, b.CheckedNodes())

	b.TransferChange("right")
	assert.Equal(t, []string{"cpu$$$usage"}, b.Define.Metrics)
	assert.Empty(t, b.CheckedNodes())

	assert.True(t, b.Transferred(2))

	_, _ = b.CheckNode(3, true)
	b.TransferChange("right")
	assert.Equal(t, []string{"cpu$$$usage", "cpu$$$cores"}, b.Define.Metrics)

	// a node already on the right is not appended twice
	_, _ = b.CheckNode(2, true)
	b.TransferChange("right")
	assert.Equal(t, []string{"cpu$$$usage", "cpu$$$cores"}, b.Define.Metrics)
	assert.Equal(t, []int{2}, b.CheckedNodes())
}

func TestTransferChange_LeftRemovesKeys(t *testing.T) {
	b, svc, _ := newTestBulletin()
	svc.hierarchy = hierarchyFixture()
	b.OnNewDefine()
	b.SearchTreeNodes(context.Background(), "linux")

	_, _ = b.CheckNode(2, true)
	_, _ = b.CheckNode(3, true)
	b.TransferChange("right")
	require.Equal(t, []string{"cpu$$$usage", "cpu$$$cores"}, b.Define.Metrics)

	_, _ = b.CheckNode(2, true)
	b.TransferChange("left")

	assert.Equal(t, []string{"cpu$$$cores"}, b.Define.Metrics)
	assert.False(t, b.Transferred(2))
	assert.True(t, b.Transferred(3))
}

func TestToggleSelectAll(t *testing.T) {
	b, _, _ := newTestBulletin()
	b.Monitors = []bulletin.Monitor{{ID: 1}, {ID: 2}}
	b.OnNewDefine()

	b.ToggleSelectAll()
	assert.Equal(t, []int64{1, 2}, b.Define.MonitorIDs)

	b.ToggleSelectAll()
	assert.Empty(t, b.Define.MonitorIDs)
}

func TestLookupFailureWarns(t *testing.T) {
	b, svc, n := newTestBulletin()
	svc.lookupErr = &manager.EnvelopeError{Code: 1, Msg: "no such app"}

	b.SearchMonitorsByApp(context.Background(), "nope")

	assert.False(t, b.MonitorsLoaded)
	assert.Equal(t, []note{{"warning", "no such app", ""}}, n.notes)
}
