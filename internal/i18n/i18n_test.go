package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_LanguagesAndFallback(t *testing.T) {
	c, err := Load("en-US")
	require.NoError(t, err)
	assert.Equal(t, []string{"en-US", "zh-CN"}, c.Languages())

	_, err = Load("fr-FR")
	assert.Error(t, err)
}

func TestMatch(t *testing.T) {
	c, err := Load("en-US")
	require.NoError(t, err)

	assert.Equal(t, "zh-CN", c.Match("zh-CN"))
	assert.Equal(t, "zh-CN", c.Match("zh"))
	assert.Equal(t, "zh-CN", c.Match("fr;q=0.9, zh-CN;q=0.8"))
	assert.Equal(t, "en-US", c.Match("en"))
	assert.Equal(t, "en-US", c.Match(""))
	assert.Equal(t, "en-US", c.Match("!!not a tag"))
}

func TestTranslator(t *testing.T) {
	c, err := Load("en-US")
	require.NoError(t, err)

	zh := c.For("zh-CN")
	assert.Equal(t, "zh-CN", zh.Lang())
	assert.Equal(t, "删除成功", zh.T("common.notify.delete-success"))

	en := c.For("en-US")
	assert.Equal(t, "No items selected for deletion", en.T("common.notify.no-select-delete"))
	assert.Equal(t, "bulletin.unknown-key", en.T("bulletin.unknown-key"))
}
