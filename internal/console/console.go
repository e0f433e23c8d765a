// Package console drives the bulletin management screen: paging through
// report tabs, the define create/edit modal, the metric tree picker and bulk
// delete. Collaborators (backend calls, notifications, message lookup) are
// injected. A Bulletin is not safe for concurrent use.
package console

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"go-monitor-bulletin/internal/bulletin"
	"go-monitor-bulletin/internal/connectors/manager"
)

// DefaultPageSize is the number of defines shown per page.
const DefaultPageSize = 8

// Service is the backend the screen talks to.
type Service interface {
	ListDefines(ctx context.Context, page, size int) (bulletin.Page[bulletin.Define], error)
	CreateDefine(ctx context.Context, def bulletin.Define) error
	UpdateDefine(ctx context.Context, def bulletin.Define) error
	DeleteDefines(ctx context.Context, names []string) error
	ListApplications(ctx context.Context, lang string) (map[string]string, error)
	ListMonitorsForApp(ctx context.Context, app string) ([]bulletin.Monitor, error)
	GetApplicationHierarchy(ctx context.Context, lang, app string) ([]bulletin.HierarchyNode, error)
	GetReportMetricData(ctx context.Context, page, size int) (*bulletin.Page[bulletin.ReportSample], error)
}

// Notifier shows transient notifications.
type Notifier interface {
	Success(ctx context.Context, title, content string)
	Warning(ctx context.Context, title, content string)
	Error(ctx context.Context, title, content string)
}

// Translator resolves message keys for the active language.
type Translator interface {
	Lang() string
	T(key string) string
}

// AppEntry is one option of the application picker.
type AppEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Bulletin is the state of the bulletin screen.
type Bulletin struct {
	svc    Service
	notify Notifier
	i18n   Translator
	log    logrus.FieldLogger

	PageIndex    int
	PageSize     int
	Total        int64
	Tabs         []bulletin.ReportTab
	TableLoading bool

	Define               bulletin.Define
	ManageModalVisible   bool
	ManageModalAdd       bool
	ManageModalOkLoading bool

	DeleteModalVisible   bool
	DeleteModalOkLoading bool
	// SelectedNames are the define names picked for bulk delete.
	SelectedNames []string

	AppEntries       []AppEntry
	AppListLoaded    bool
	Monitors         []bulletin.Monitor
	MonitorsLoaded   bool
	Hierarchies      []bulletin.FlatTreeItem
	TreeNodes        []*bulletin.TreeNode
	checkedNodes     []int
	transferredNodes map[int]bool
}

// New returns a screen on its first page with the default page size.
func New(svc Service, notify Notifier, i18n Translator, log logrus.FieldLogger) *Bulletin {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bulletin{
		svc:              svc,
		notify:           notify,
		i18n:             i18n,
		log:              log,
		PageIndex:        1,
		PageSize:         DefaultPageSize,
		TableLoading:     true,
		transferredNodes: map[int]bool{},
	}
}

// Init loads the first page.
func (b *Bulletin) Init(ctx context.Context) {
	b.LoadData(ctx, b.PageIndex-1, b.PageSize)
}

// Sync reloads the current page.
func (b *Bulletin) Sync(ctx context.Context) {
	b.LoadData(ctx, b.PageIndex-1, b.PageSize)
}

// LoadData fetches report samples for a zero-based page and rebuilds the
// tabs from scratch. A response without data keeps the current tabs.
func (b *Bulletin) LoadData(ctx context.Context, page, size int) {
	b.TableLoading = true
	defer func() { b.TableLoading = false }()

	data, err := b.svc.GetReportMetricData(ctx, page, size)
	if err != nil {
		msg := manager.Message(err)
		b.log.WithError(err).Warn("failed to load bulletin metrics data")
		b.notify.Warning(ctx, msg, "")
		return
	}
	if data == nil {
		return
	}
	b.Total = data.TotalElements
	b.Tabs = bulletin.Aggregate(data.Content)
}

// OnNewDefine opens an empty create modal.
func (b *Bulletin) OnNewDefine() {
	b.Define = bulletin.Define{Metrics: []string{}, MonitorIDs: []int64{}}
	b.ManageModalAdd = true
	b.ManageModalVisible = true
	b.ManageModalOkLoading = false
}

// OnEditDefine opens the modal on a copy of an existing define and loads the
// pickers for its application.
func (b *Bulletin) OnEditDefine(ctx context.Context, def bulletin.Define) {
	b.Define = def
	b.Define.Metrics = append([]string{}, def.Metrics...)
	b.Define.MonitorIDs = append([]int64{}, def.MonitorIDs...)
	b.ManageModalAdd = false
	b.ManageModalVisible = true
	b.ManageModalOkLoading = false
	b.OnAppChange(ctx, def.App)
}

// OnManageModalCancel closes the create/edit modal without saving.
func (b *Bulletin) OnManageModalCancel() {
	b.ManageModalVisible = false
}

func (b *Bulletin) resetManageModalData() {
	b.ManageModalVisible = false
	b.checkedNodes = nil
	b.transferredNodes = map[int]bool{}
}

// OnManageModalOk submits the modal as a create or an edit.
func (b *Bulletin) OnManageModalOk(ctx context.Context) {
	b.ManageModalOkLoading = true
	defer func() { b.ManageModalOkLoading = false }()

	b.Define.Normalize()
	if b.ManageModalAdd {
		if err := b.svc.CreateDefine(ctx, b.Define); err != nil {
			b.notify.Error(ctx, b.i18n.T("common.notify.new-fail"), manager.Message(err))
			return
		}
		b.ManageModalVisible = false
		b.notify.Success(ctx, b.i18n.T("common.notify.new-success"), "")
		b.LoadData(ctx, b.PageIndex-1, b.PageSize)
		b.resetManageModalData()
		return
	}

	if err := b.svc.UpdateDefine(ctx, b.Define); err != nil {
		b.notify.Error(ctx, b.i18n.T("common.notify.edit-fail"), manager.Message(err))
		return
	}
	b.ManageModalVisible = false
	b.notify.Success(ctx, b.i18n.T("common.notify.edit-success"), "")
	b.LoadData(ctx, b.PageIndex-1, b.PageSize)
}

// DeleteDefines removes defines by name. An empty selection only warns.
func (b *Bulletin) DeleteDefines(ctx context.Context, names []string) {
	if len(names) == 0 {
		b.notify.Warning(ctx, b.i18n.T("common.notify.no-select-delete"), "")
		return
	}
	b.TableLoading = true
	if err := b.svc.DeleteDefines(ctx, names); err != nil {
		b.TableLoading = false
		b.notify.Error(ctx, b.i18n.T("common.notify.delete-fail"), manager.Message(err))
		return
	}
	b.notify.Success(ctx, b.i18n.T("common.notify.delete-success"), "")
	b.SelectedNames = nil
	b.LoadData(ctx, b.PageIndex-1, b.PageSize)
}

// OnDeleteDefines opens the delete confirmation.
func (b *Bulletin) OnDeleteDefines() {
	b.DeleteModalVisible = true
}

// OnDeleteModalCancel closes the delete confirmation.
func (b *Bulletin) OnDeleteModalCancel() {
	b.DeleteModalVisible = false
}

// OnDeleteModalOk deletes the selected defines and closes the confirmation.
func (b *Bulletin) OnDeleteModalOk(ctx context.Context) {
	b.DeleteDefines(ctx, b.SelectedNames)
	b.DeleteModalOkLoading = false
	b.DeleteModalVisible = false
}

// SearchAppDefines loads the application picker.
func (b *Bulletin) SearchAppDefines(ctx context.Context) {
	apps, err := b.svc.ListApplications(ctx, b.i18n.Lang())
	if err != nil {
		b.log.WithError(err).Warn("failed to load application defines")
		b.notify.Warning(ctx, manager.Message(err), "")
		return
	}
	entries := make([]AppEntry, 0, len(apps))
	for k, v := range apps {
		entries = append(entries, AppEntry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	b.AppEntries = entries
	b.AppListLoaded = true
}

// SearchMonitorsByApp loads the monitor picker for one application.
func (b *Bulletin) SearchMonitorsByApp(ctx context.Context, app string) {
	monitors, err := b.svc.ListMonitorsForApp(ctx, app)
	if err != nil {
		b.log.WithError(err).WithField("app", app).Warn("failed to load monitors")
		b.notify.Warning(ctx, manager.Message(err), "")
		return
	}
	b.Monitors = monitors
	b.MonitorsLoaded = true
}

// SearchTreeNodes loads the metric hierarchy for one application.
func (b *Bulletin) SearchTreeNodes(ctx context.Context, app string) {
	data, err := b.svc.GetApplicationHierarchy(ctx, b.i18n.Lang(), app)
	if err != nil {
		b.log.WithError(err).WithField("app", app).Warn("failed to load application hierarchy")
		b.notify.Warning(ctx, manager.Message(err), "")
		return
	}
	flat, tree, err := bulletin.BuildHierarchyTree(data)
	if err != nil {
		b.Hierarchies, b.TreeNodes = nil, nil
		b.notify.Error(ctx, err.Error(), "")
		return
	}
	b.Hierarchies = flat
	b.TreeNodes = tree
	b.checkedNodes = nil
	b.transferredNodes = map[int]bool{}
	for _, item := range flat {
		if item.IsLeaf && containsString(b.Define.Metrics, item.Key) {
			b.transferredNodes[item.ID] = true
		}
	}
}

// OnAppChange refreshes both pickers, or clears the tree when app is empty.
func (b *Bulletin) OnAppChange(ctx context.Context, app string) {
	if app == "" {
		b.Hierarchies = nil
		b.TreeNodes = nil
		return
	}
	b.SearchMonitorsByApp(ctx, app)
	b.SearchTreeNodes(ctx, app)
}

// CheckNode records a tree checkbox change. Disabled (root) nodes are
// ignored.
func (b *Bulletin) CheckNode(id int, checked bool) (bulletin.FlatTreeItem, bool) {
	item, ok := bulletin.FindItem(b.Hierarchies, id)
	if !ok || item.Disabled {
		return bulletin.FlatTreeItem{}, false
	}
	idx := -1
	for i, n := range b.checkedNodes {
		if n == id {
			idx = i
			break
		}
	}
	switch {
	case checked && idx == -1:
		b.checkedNodes = append(b.checkedNodes, id)
	case !checked && idx != -1:
		b.checkedNodes = append(b.checkedNodes[:idx], b.checkedNodes[idx+1:]...)
	}
	return item, true
}

// CheckedNodes returns the ids currently checked in the tree.
func (b *Bulletin) CheckedNodes() []int {
	return append([]int(nil), b.checkedNodes...)
}

// TransferChange moves the checked nodes to ("right") or from ("left") the
// selection, keeping Define.Metrics in sync. Checked nodes already on the
// target side stay checked.
func (b *Bulletin) TransferChange(to string) {
	moveRight := to == "right"
	remaining := b.checkedNodes[:0]
	for _, id := range b.checkedNodes {
		item, ok := bulletin.FindItem(b.Hierarchies, id)
		if !ok {
			continue
		}
		if b.transferredNodes[id] == moveRight {
			remaining = append(remaining, id)
			continue
		}
		if moveRight {
			b.transferredNodes[id] = true
			if !containsString(b.Define.Metrics, item.Key) {
				b.Define.Metrics = append(b.Define.Metrics, item.Key)
			}
			continue
		}
		delete(b.transferredNodes, id)
		b.Define.Metrics = removeString(b.Define.Metrics, item.Key)
	}
	b.checkedNodes = remaining
}

// Transferred reports whether a node is on the selected side.
func (b *Bulletin) Transferred(id int) bool {
	return b.transferredNodes[id]
}

// ToggleSelectAll selects every monitor, or none when all are selected.
func (b *Bulletin) ToggleSelectAll() {
	if len(b.Define.MonitorIDs) == len(b.Monitors) {
		b.Define.MonitorIDs = []int64{}
		return
	}
	ids := make([]int64, 0, len(b.Monitors))
	for _, m := range b.Monitors {
		ids = append(ids, m.ID)
	}
	b.Define.MonitorIDs = ids
}

// OnTablePageChange reloads only when page or size actually changed.
// pageIndex is one-based.
func (b *Bulletin) OnTablePageChange(ctx context.Context, pageIndex, pageSize int) {
	if pageIndex == b.PageIndex && pageSize == b.PageSize {
		return
	}
	b.PageIndex = pageIndex
	b.PageSize = pageSize
	b.LoadData(ctx, pageIndex-1, pageSize)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
