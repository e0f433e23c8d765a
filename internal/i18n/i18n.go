// Package i18n resolves UI message keys for the supported languages.
package i18n

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Catalog holds the flattened messages of every embedded language.
type Catalog struct {
	tags     []language.Tag
	messages map[string]map[string]string
	matcher  language.Matcher
	fallback string
}

// Load parses the embedded catalogs. fallback is used when no language
// matches; it must be one of the embedded ones.
func Load(fallback string) (*Catalog, error) {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	c := &Catalog{messages: map[string]map[string]string{}}
	fallbackTag := language.Make(fallback)
	var tags []language.Tag
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("locale %s: %w", e.Name(), err)
		}
		blob, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, err
		}
		var tree map[string]any
		if err := yaml.Unmarshal(blob, &tree); err != nil {
			return nil, fmt.Errorf("locale %s: %w", e.Name(), err)
		}
		flat := map[string]string{}
		flatten("", tree, flat)
		c.messages[tag.String()] = flat

		// the fallback goes first so the matcher prefers it on no match
		if tag == fallbackTag {
			tags = append([]language.Tag{tag}, tags...)
			c.fallback = tag.String()
		} else {
			tags = append(tags, tag)
		}
	}
	if c.fallback == "" {
		return nil, fmt.Errorf("fallback language %q has no catalog", fallback)
	}
	c.tags = tags
	c.matcher = language.NewMatcher(tags)
	return c, nil
}

func flatten(prefix string, node map[string]any, out map[string]string) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}

// Languages lists the embedded languages, fallback first.
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.tags))
	for _, t := range c.tags {
		out = append(out, t.String())
	}
	return out
}

// Match picks the best supported language for a tag list or an
// Accept-Language header value.
func (c *Catalog) Match(preferred ...string) string {
	var want []language.Tag
	for _, p := range preferred {
		if strings.TrimSpace(p) == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(p)
		if err != nil {
			continue
		}
		want = append(want, tags...)
	}
	if len(want) == 0 {
		return c.fallback
	}
	_, idx, conf := c.matcher.Match(want...)
	if conf == language.No {
		return c.fallback
	}
	return c.tags[idx].String()
}

// For returns a translator for the best match of preferred.
func (c *Catalog) For(preferred ...string) *Translator {
	lang := c.Match(preferred...)
	return &Translator{lang: lang, messages: c.messages[lang], fallback: c.messages[c.fallback]}
}

// Translator looks up messages in one language.
type Translator struct {
	lang     string
	messages map[string]string
	fallback map[string]string
}

func (t *Translator) Lang() string {
	return t.lang
}

// T returns the message for key, the fallback language's message, or the key
// itself.
func (t *Translator) T(key string) string {
	if msg, ok := t.messages[key]; ok {
		return msg
	}
	if msg, ok := t.fallback[key]; ok {
		return msg
	}
	return key
}
