package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 8, cfg.DefaultPageSize)
	assert.Equal(t, BackendSQLite, cfg.StoreBackend)
	assert.Equal(t, "bulletin:", cfg.RedisKeyPrefix)
	assert.Equal(t, []string{"http://127.0.0.1:1157/actuator/prometheus"}, cfg.PromTargets)
	assert.Empty(t, cfg.ManagerEndpoint)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"APP_STORE_BACKEND":       " Redis ",
		"APP_REDIS_DB":            "3",
		"APP_MANAGER_ENDPOINT":    "http://hertzbeat:1157",
		"APP_MANAGER_TIMEOUT":     "2s",
		"APP_DINGTALK_AT_MOBILES": "138, ,139",
		"APP_PROM_TARGETS":        "http://a/metrics,http://b/metrics",
	})
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 2*time.Second, cfg.ManagerTimeout)
	assert.Equal(t, []string{"138", "139"}, cfg.DingTalkAtMobiles)
	assert.Len(t, cfg.PromTargets, 2)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"backend":   {"APP_STORE_BACKEND": "mongo"},
		"page size": {"APP_DEFAULT_PAGE_SIZE": "0"},
		"endpoint":  {"APP_MANAGER_ENDPOINT": "hertzbeat:1157/api"},
		"duration":  {"APP_READ_TIMEOUT": "ten"},
	}
	for name, environ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(environ)
			assert.Error(t, err)
		})
	}
}

func TestMySQLDSN(t *testing.T) {
	cfg, err := Parse(map[string]string{"APP_DB_PASSWORD": "pw", "APP_STORE_BACKEND": "mysql"})
	require.NoError(t, err)
	dsn := cfg.MySQLDSN()
	assert.Contains(t, dsn, "root:pw@tcp(127.0.0.1:3306)/hertzbeat?")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestApplyEnvDefaultsFromFile_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bulletin.env")
	require.NoError(t, os.WriteFile(path, []byte("# defaults\nAPP_TEST_KEEP=file\nAPP_TEST_FILL=\"from file\"\n"), 0o600))

	t.Setenv("APP_TEST_KEEP", "process")
	t.Setenv("APP_TEST_FILL", "")

	require.NoError(t, applyEnvDefaultsFromFile(path))
	assert.Equal(t, "process", os.Getenv("APP_TEST_KEEP"))
	assert.Equal(t, "from file", os.Getenv("APP_TEST_FILL"))

	assert.Error(t, applyEnvDefaultsFromFile(filepath.Join(t.TempDir(), "missing.env")))
}
