package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"text/tabwriter"

	"go-monitor-bulletin/internal/bulletin"
	"go-monitor-bulletin/internal/config"
	"go-monitor-bulletin/internal/connectors/manager"
	"go-monitor-bulletin/internal/console"
	"go-monitor-bulletin/internal/i18n"
	"go-monitor-bulletin/internal/logger"
	"go-monitor-bulletin/internal/notify"
)

const usage = `usage: bulletinctl [flags] <command> [args]

commands:
  list                 list bulletin defines
  tabs                 print the bulletin report tabs
  hierarchy <app>      print the metric hierarchy of an application
  apps                 list applications
  monitors <app>       list monitors of an application
  create -f def.json   create a define
  edit -f def.json     update a define
  delete <name>...     delete defines by name

flags:
`

// failureCounter counts error and warning notifications so the exit code
// reflects what the console reported.
type failureCounter struct {
	failures atomic.Int32
}

// reset forgets failures reported so far. Commands that change defines call
// it once the change is applied, so follow-up lookups do not decide the exit
// code.
func (c *failureCounter) reset() {
	c.failures.Store(0)
}

func (c *failureCounter) Success(context.Context, string, string) {}

func (c *failureCounter) Warning(context.Context, string, string) {
	c.failures.Add(1)
}

func (c *failureCounter) Error(context.Context, string, string) {
	c.failures.Add(1)
}

type cli struct {
	console *console.Bulletin
	counter *failureCounter
	client  *manager.Client
	tr      *i18n.Translator
	out     io.Writer
	page    int
	size    int
}

// run executes one command and returns the process exit code: 0 on success,
// 1 when the console reported a failure, 2 on usage errors. For create, edit
// and delete only the change itself counts. A nil environ
// reads the process environment and its env files.
func run(ctx context.Context, args []string, environ map[string]string, stdout, stderr io.Writer) int {
	var (
		cfg config.Config
		err error
	)
	if environ == nil {
		cfg, err = config.FromEnv()
	} else {
		cfg, err = config.Parse(environ)
	}
	if err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("bulletinctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	endpoint := fs.String("endpoint", firstNonEmpty(cfg.ManagerEndpoint, "http://127.0.0.1:8080"), "bulletin server or manager base URL")
	lang := fs.String("lang", cfg.DefaultLang, "language for messages and application names")
	page := fs.Int("page", 1, "one-based page index")
	size := fs.Int("size", cfg.DefaultPageSize, "page size")
	timeout := fs.Duration("timeout", cfg.ManagerTimeout, "request timeout")
	logLevel := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	log, closer, err := logger.New(logger.Options{Level: *logLevel, Format: cfg.LogFormat, Stdout: stderr})
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer closer.Close()

	catalog, err := i18n.Load(cfg.DefaultLang)
	if err != nil {
		log.WithError(err).Error("failed to load message catalogs")
		return 1
	}
	tr := catalog.For(*lang)

	counter := &failureCounter{}
	channels := notify.Fanout{notify.NewLogNotifier(log), counter}
	if cfg.DingTalkWebhook != "" {
		channels = append(channels, notify.NewDingTalkNotifier(notify.DingTalkOptions{
			Webhook:   cfg.DingTalkWebhook,
			AtMobiles: cfg.DingTalkAtMobiles,
			AtAll:     cfg.DingTalkAtAll,
			MinLevel:  notify.LevelWarning,
		}, log))
	}

	client := manager.NewClient(*endpoint, *timeout)
	c := &cli{
		console: console.New(client, channels, tr, log),
		counter: counter,
		client:  client,
		tr:      tr,
		out:     stdout,
		page:    *page,
		size:    *size,
	}
	if c.page < 1 {
		c.page = 1
	}
	if err := c.dispatch(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		fmt.Fprintf(stderr, "bulletinctl: %v\n", err)
		return 2
	}
	if counter.failures.Load() > 0 {
		return 1
	}
	return 0
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "list":
		return c.list(ctx)
	case "tabs":
		c.tabs(ctx)
	case "hierarchy":
		app, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		c.hierarchy(ctx, app)
	case "apps":
		c.apps(ctx)
	case "monitors":
		app, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		c.monitors(ctx, app)
	case "create", "edit":
		def, err := readDefineFlag(cmd, args)
		if err != nil {
			return err
		}
		c.save(ctx, cmd == "create", def)
	case "delete":
		if len(args) == 0 {
			return errors.New("delete: at least one name is required")
		}
		c.console.SelectedNames = args
		c.console.OnDeleteDefines()
		c.console.OnDeleteModalOk(ctx)
		// the selection is cleared only when the delete went through
		if c.console.SelectedNames == nil {
			c.counter.reset()
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func (c *cli) list(ctx context.Context) error {
	page, err := c.client.ListDefines(ctx, c.page-1, c.size)
	if err != nil {
		return errors.New(manager.Message(err))
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\t%s\t%s\t%s\n",
		strings.ToUpper(c.tr.T("bulletin.name")), strings.ToUpper(c.tr.T("bulletin.app")),
		strings.ToUpper(c.tr.T("bulletin.monitors")), strings.ToUpper(c.tr.T("bulletin.metrics")))
	for _, d := range page.Content {
		ids := make([]string, 0, len(d.MonitorIDs))
		for _, id := range d.MonitorIDs {
			ids = append(ids, fmt.Sprint(id))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.App, strings.Join(ids, ","), strings.Join(d.Metrics, ","))
	}
	_ = tw.Flush()
	fmt.Fprintf(c.out, "%s: %d\n", c.tr.T("bulletin.total"), page.TotalElements)
	return nil
}

func (c *cli) tabs(ctx context.Context) {
	if c.page == c.console.PageIndex {
		c.console.PageSize = c.size
		c.console.Init(ctx)
	} else {
		c.console.OnTablePageChange(ctx, c.page, c.size)
	}
	if c.counter.failures.Load() > 0 {
		return
	}
	if len(c.console.Tabs) == 0 {
		fmt.Fprintln(c.out, c.tr.T("bulletin.empty"))
		return
	}
	for _, tab := range c.console.Tabs {
		writeTab(c.out, c.tr, tab)
	}
	fmt.Fprintf(c.out, "%s %d  %s: %d\n", c.tr.T("bulletin.page"), c.console.PageIndex, c.tr.T("bulletin.total"), c.console.Total)
}

// writeTab prints one report tab. A host with stacked values takes
// MaxRowSpan lines; its identity is printed on the first one only.
func writeTab(w io.Writer, tr *i18n.Translator, tab bulletin.ReportTab) {
	fmt.Fprintf(w, "== %s ==\n", tab.Name)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	keys := tab.ColumnKeys()
	header := []string{tr.T("bulletin.host"), tr.T("bulletin.monitor-id")}
	for _, key := range keys {
		header = append(header, strings.Replace(key, bulletin.KeySeparator, ".", 1))
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range tab.Data {
		for _, idx := range tab.RowIndexes(row) {
			cells := []string{"", ""}
			if idx == 0 {
				cells = []string{row.Host, fmt.Sprint(row.MonitorID)}
			}
			for _, key := range keys {
				value, unit := bulletin.SplitCell(row.Cell(key, idx))
				cells = append(cells, value+unit)
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
	}
	_ = tw.Flush()
}

func (c *cli) hierarchy(ctx context.Context, app string) {
	c.console.SearchTreeNodes(ctx, app)
	var walk func(nodes []*bulletin.TreeNode, depth int)
	walk = func(nodes []*bulletin.TreeNode, depth int) {
		for _, n := range nodes {
			marker := ""
			if n.IsLeaf {
				marker = "  [" + n.Key + "]"
			}
			fmt.Fprintf(c.out, "%s%d %s%s\n", strings.Repeat("  ", depth), n.ID, n.Title, marker)
			walk(n.Children, depth+1)
		}
	}
	walk(c.console.TreeNodes, 0)
}

func (c *cli) apps(ctx context.Context) {
	c.console.SearchAppDefines(ctx)
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, e := range c.console.AppEntries {
		fmt.Fprintf(tw, "%s\t%s\n", e.Key, e.Value)
	}
	_ = tw.Flush()
}

func (c *cli) monitors(ctx context.Context, app string) {
	c.console.SearchMonitorsByApp(ctx, app)
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tNAME\t%s\tSTATUS\n", strings.ToUpper(c.tr.T("bulletin.host")))
	for _, m := range c.console.Monitors {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", m.ID, m.Name, m.Host, m.Status)
	}
	_ = tw.Flush()
}

func (c *cli) save(ctx context.Context, create bool, def bulletin.Define) {
	if create {
		c.console.OnNewDefine()
		c.console.Define = def
	} else {
		c.console.OnEditDefine(ctx, def)
	}
	c.console.OnManageModalOk(ctx)
	if !c.console.ManageModalVisible {
		c.counter.reset()
		fmt.Fprintln(c.out, c.console.Define.Name)
	}
}

func readDefineFlag(cmd string, args []string) (bulletin.Define, error) {
	var def bulletin.Define
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	file := fs.String("f", "", "define JSON file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return def, fmt.Errorf("%s: %w", cmd, err)
	}
	if *file == "" {
		return def, fmt.Errorf("%s: -f is required", cmd)
	}
	var (
		blob []byte
		err  error
	)
	if *file == "-" {
		blob, err = io.ReadAll(os.Stdin)
	} else {
		blob, err = os.ReadFile(*file)
	}
	if err != nil {
		return def, fmt.Errorf("%s: %w", cmd, err)
	}
	if err := json.Unmarshal(blob, &def); err != nil {
		return def, fmt.Errorf("%s: decode %s: %w", cmd, *file, err)
	}
	if cmd == "edit" && def.ID <= 0 {
		return def, errors.New("edit: define id is required")
	}
	return def, nil
}

func oneArg(cmd string, args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("%s: exactly one application is required", cmd)
	}
	return args[0], nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
