package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DingTalkOptions configures the robot webhook.
type DingTalkOptions struct {
	Webhook   string
	AtMobiles []string
	AtAll     bool
	// MinLevel filters out less severe notifications. Zero sends everything.
	MinLevel Level
	Timeout  time.Duration
}

// DingTalkNotifier posts markdown messages to a DingTalk robot.
type DingTalkNotifier struct {
	opts DingTalkOptions
	http *http.Client
	log  logrus.FieldLogger
}

type dingTalkMessage struct {
	MsgType  string           `json:"msgtype"`
	Markdown dingTalkMarkdown `json:"markdown"`
	At       dingTalkAt       `json:"at"`
}

type dingTalkMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type dingTalkAt struct {
	IsAtAll   bool     `json:"isAtAll"`
	AtMobiles []string `json:"atMobiles"`
}

type dingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func NewDingTalkNotifier(opts DingTalkOptions, log logrus.FieldLogger) *DingTalkNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &DingTalkNotifier{opts: opts, http: &http.Client{Timeout: opts.Timeout}, log: log}
}

func (d *DingTalkNotifier) Success(ctx context.Context, title, content string) {
	d.notify(ctx, LevelSuccess, title, content)
}

func (d *DingTalkNotifier) Warning(ctx context.Context, title, content string) {
	d.notify(ctx, LevelWarning, title, content)
}

func (d *DingTalkNotifier) Error(ctx context.Context, title, content string) {
	d.notify(ctx, LevelError, title, content)
}

func (d *DingTalkNotifier) notify(ctx context.Context, level Level, title, content string) {
	if level < d.opts.MinLevel {
		return
	}
	text := fmt.Sprintf("#### [%s] %s", strings.ToUpper(level.String()), title)
	if content != "" {
		text += "\n\n" + content
	}
	if err := d.Send(ctx, title, text); err != nil {
		d.log.WithError(err).WithField("title", title).Warn("dingtalk notify failed")
	}
}

// Send posts one markdown message. Configured mobiles are mentioned at the
// end of the text so the robot highlights them.
func (d *DingTalkNotifier) Send(ctx context.Context, title, text string) error {
	if strings.TrimSpace(d.opts.Webhook) == "" {
		return fmt.Errorf("dingtalk notify: webhook not configured")
	}
	mobiles := d.opts.AtMobiles
	if mobiles == nil {
		mobiles = []string{}
	}
	for _, m := range mobiles {
		text += " @" + m
	}

	blob, err := json.Marshal(dingTalkMessage{
		MsgType:  "markdown",
		Markdown: dingTalkMarkdown{Title: title, Text: text},
		At:       dingTalkAt{IsAtAll: d.opts.AtAll, AtMobiles: mobiles},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.opts.Webhook, bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("dingtalk notify: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("dingtalk notify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("dingtalk notify: http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out dingTalkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("dingtalk notify: decode response: %w", err)
	}
	if out.ErrCode != 0 {
		return fmt.Errorf("dingtalk notify: errcode %d: %s", out.ErrCode, out.ErrMsg)
	}
	d.log.WithField("title", title).Debug("dingtalk notify sent")
	return nil
}
