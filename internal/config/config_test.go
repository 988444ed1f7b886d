package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// chdirTemp runs the test in an empty directory so that no config.yaml is picked up.
func chdirTemp(t *testing.T) string {
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	for _, key := range []string{"PORT", "BACKEND", "DBHOST", "DBNAME", "SNAPSHOT_PATH", "FILE_PREFIX", "LOG_LEVEL", "GIN_LOGGING", "TIMEZONE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	conf, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, conf.Port)
	assert.Equal(t, ":8080", conf.Addr())
	assert.Equal(t, BackendLocal, conf.Backend)
	assert.Equal(t, "calllist.db", conf.SnapshotPath)
	assert.Equal(t, "CallToDie", conf.FilePrefix)
	assert.Equal(t, "info", conf.LogLevel)
	assert.True(t, conf.HTTPLogging())
	assert.Equal(t, "localhost:3306", conf.MySQL.Host)
	assert.Equal(t, "test", conf.MySQL.Database)

	loc, err := conf.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoadFromEnvironment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PORT", "9090")
	t.Setenv("BACKEND", "Remote")
	t.Setenv("DBUSER", "dirk")
	t.Setenv("DBPWD", "secret")
	t.Setenv("DBHOST", "db:3306")
	t.Setenv("DBNAME", "calls")
	t.Setenv("GIN_LOGGING", "OFF")
	t.Setenv("TIMEZONE", "Asia/Ho_Chi_Minh")

	conf, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, conf.Port)
	assert.Equal(t, BackendRemote, conf.Backend)
	assert.False(t, conf.HTTPLogging())
	assert.Equal(t, "dirk:secret@tcp(db:3306)/calls?parseTime=true", conf.MySQL.DSN())

	loc, err := conf.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Ho_Chi_Minh", loc.String())
}

func TestLoadEnvFileAndConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	t.Setenv("FILE_PREFIX", "")
	os.Unsetenv("FILE_PREFIX")
	t.Setenv("SNAPSHOT_PATH", "")
	os.Unsetenv("SNAPSHOT_PATH")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FILE_PREFIX=Sales\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("snapshot_path: /tmp/calls.db\nlog_level: debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FILE_PREFIX") })

	conf, err := Load(filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Equal(t, "Sales", conf.FilePrefix)
	assert.Equal(t, "/tmp/calls.db", conf.SnapshotPath)
	assert.Equal(t, "debug", conf.LogLevel)
}

func TestLoadMissingEnvFile(t *testing.T) {
	dir := chdirTemp(t)
	_, err := Load(filepath.Join(dir, "does-not-exist.env"))
	assert.NoError(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	chdirTemp(t)
	t.Setenv("BACKEND", "redis")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestLoadRejectsBadPort(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PORT", "70000")
	_, err := Load("")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("warn")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
