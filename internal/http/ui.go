package http

import (
	"html/template"
	nethttp "net/http"

	"go-monitor-bulletin/internal/bulletin"
	"go-monitor-bulletin/internal/i18n"
)

type bulletinPageView struct {
	Lang      string
	Labels    pageLabels
	Tabs      []tabView
	Total     int64
	PageIndex int
	PageCount int
	PageSize  int
	HasPrev   bool
	HasNext   bool
	PrevPage  int
	NextPage  int
	Error     string
}

type pageLabels struct {
	Title     string
	Host      string
	MonitorID string
	Empty     string
	Total     string
	Page      string
}

type tabView struct {
	ID      int64
	Name    string
	Metrics []metricHeader
	Fields  []string
	Rows    []rowGroup
}

type metricHeader struct {
	Name    string
	Colspan int
}

// rowGroup is one host. Lines holds MaxRowSpan rendered lines; the host
// cells span all of them.
type rowGroup struct {
	Host      string
	MonitorID int64
	Span      int
	Lines     [][]cellView
}

type cellView struct {
	Value string
	Unit  string
}

func bulletinPageHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		tr := d.catalog.For(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
		page, size := parsePaging(r, d.pageSize)

		view := bulletinPageView{
			Lang:      tr.Lang(),
			Labels:    labelsFor(tr),
			PageIndex: page + 1,
			PageSize:  size,
		}
		report, _, err := collectReport(r.Context(), d, page, size)
		if err != nil {
			view.Error = err.Error()
		} else {
			view.Total = report.TotalElements
			view.Tabs = buildTabViews(bulletin.Aggregate(report.Content))
		}
		view.PageCount = int((view.Total + int64(size) - 1) / int64(size))
		if view.PageCount < 1 {
			view.PageCount = 1
		}
		view.HasPrev = page > 0
		view.PrevPage = page - 1
		view.HasNext = page+1 < view.PageCount
		view.NextPage = page + 1

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(nethttp.StatusOK)
		if err := bulletinPage.Execute(w, view); err != nil {
			d.log.WithError(err).Error("failed to render bulletin page")
		}
	}
}

func labelsFor(tr *i18n.Translator) pageLabels {
	return pageLabels{
		Title:     tr.T("bulletin.title"),
		Host:      tr.T("bulletin.host"),
		MonitorID: tr.T("bulletin.monitor-id"),
		Empty:     tr.T("bulletin.empty"),
		Total:     tr.T("bulletin.total"),
		Page:      tr.T("bulletin.page"),
	}
}

func buildTabViews(tabs []bulletin.ReportTab) []tabView {
	out := make([]tabView, 0, len(tabs))
	for _, tab := range tabs {
		tv := tabView{ID: tab.ID, Name: tab.Name}
		keys := tab.ColumnKeys()
		for _, m := range tab.MetricNames() {
			tv.Metrics = append(tv.Metrics, metricHeader{Name: m, Colspan: len(tab.BulletinColumn[m])})
		}
		for _, key := range keys {
			tv.Fields = append(tv.Fields, bulletin.FieldName(key))
		}
		for _, row := range tab.Data {
			group := rowGroup{Host: row.Host, MonitorID: row.MonitorID, Span: tab.MaxRowSpan(row)}
			for _, idx := range tab.RowIndexes(row) {
				line := make([]cellView, 0, len(keys))
				for _, key := range keys {
					value, unit := bulletin.SplitCell(row.Cell(key, idx))
					line = append(line, cellView{Value: value, Unit: unit})
				}
				group.Lines = append(group.Lines, line)
			}
			tv.Rows = append(tv.Rows, group)
		}
		out = append(out, tv)
	}
	return out
}

func faviconHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	w.WriteHeader(nethttp.StatusNoContent)
}

var bulletinPage = template.Must(template.New("bulletin").Parse(bulletinHTML))

const bulletinHTML = `<!doctype html>
<html lang="{{.Lang}}">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Labels.Title}}</title>
  <style>
    :root {
      --blue: #0e5d8f;
      --blue-2: #0971b2;
      --bg: #f7f7f7;
      --paper: #fff;
      --text: #333;
      --muted: #777;
      --line: #ddd;
      --head: #f0f0f0;
      --bad-bg: #f2dede;
      --bad-text: #a94442;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      background: var(--bg);
      color: var(--text);
      font-family: "Open Sans", "Helvetica Neue", Helvetica, Arial, sans-serif;
      font-size: 14px;
    }
    header {
      background: linear-gradient(to right, var(--blue) 0, var(--blue-2) 100%);
      color: #fff;
      padding: 18px 15px;
      font-size: 22px;
      font-weight: 300;
    }
    main { padding: 18px 15px 32px; max-width: 1680px; margin: 0 auto; }
    .tabs { display: flex; gap: 8px; border-bottom: 1px solid var(--line); padding-bottom: 8px; margin-bottom: 14px; }
    .tab-btn { border: 1px solid #c7d7e5; background: #f3f8fc; color: var(--blue); padding: 6px 10px; font-size: 12px; font-weight: 600; }
    .tab-btn:target, .tab-btn:hover { background: var(--blue); color: #fff; }
    section { background: var(--paper); border: 1px solid var(--line); margin-bottom: 18px; overflow-x: auto; }
    section h2 { font-size: 16px; font-weight: 600; margin: 0; padding: 10px 12px; background: var(--head); border-bottom: 1px solid var(--line); }
    table { border-collapse: collapse; width: 100%; }
    th, td { border: 1px solid var(--line); padding: 5px 8px; text-align: left; white-space: nowrap; }
    th { background: var(--head); font-weight: 600; }
    .unit { color: var(--muted); margin-left: 2px; }
    .error { background: var(--bad-bg); color: var(--bad-text); padding: 10px 12px; margin-bottom: 14px; }
    .empty { color: var(--muted); padding: 24px 0; text-align: center; }
    .pager { display: flex; gap: 12px; align-items: center; color: var(--muted); }
  </style>
</head>
<body>
  <header>{{.Labels.Title}}</header>
  <main>
    {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
    {{if .Tabs}}
    <nav class="tabs">
      {{range .Tabs}}<a class="tab-btn" href="#tab-{{.ID}}">{{.Name}}</a>{{end}}
    </nav>
    {{range .Tabs}}
    <section id="tab-{{.ID}}">
      <h2>{{.Name}}</h2>
      <table>
        <thead>
          <tr>
            <th rowspan="2">{{$.Labels.Host}}</th>
            <th rowspan="2">{{$.Labels.MonitorID}}</th>
            {{range .Metrics}}<th colspan="{{.Colspan}}">{{.Name}}</th>{{end}}
          </tr>
          <tr>
            {{range .Fields}}<th>{{.}}</th>{{end}}
          </tr>
        </thead>
        <tbody>
          {{range .Rows}}{{$group := .}}
          {{range $i, $line := .Lines}}
          <tr>
            {{if eq $i 0}}
            <td rowspan="{{$group.Span}}">{{$group.Host}}</td>
            <td rowspan="{{$group.Span}}">{{$group.MonitorID}}</td>
            {{end}}
            {{range $line}}<td>{{.Value}}{{if .Unit}}<span class="unit">{{.Unit}}</span>{{end}}</td>{{end}}
          </tr>
          {{end}}
          {{end}}
        </tbody>
      </table>
    </section>
    {{end}}
    {{else if not .Error}}
    <div class="empty">{{.Labels.Empty}}</div>
    {{end}}
    <div class="pager">
      {{if .HasPrev}}<a href="?pageIndex={{.PrevPage}}&pageSize={{.PageSize}}&lang={{.Lang}}">&laquo;</a>{{end}}
      <span>{{.Labels.Page}} {{.PageIndex}} / {{.PageCount}}</span>
      <span>{{.Labels.Total}}: {{.Total}}</span>
      {{if .HasNext}}<a href="?pageIndex={{.NextPage}}&pageSize={{.PageSize}}&lang={{.Lang}}">&raquo;</a>{{end}}
    </div>
  </main>
</body>
</html>
`
