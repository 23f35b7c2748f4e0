package settings_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonar-exporter/internal/settings"
)

func TestSnapshotBool(t *testing.T) {
	snap := settings.Snapshot{
		"a": "true",
		"b": "false",
		"c": "yes",
		"d": " TRUE ",
		"e": "1",
		"f": "t",
		"g": "True",
	}

	assert.True(t, snap.Bool("a"))
	assert.False(t, snap.Bool("b"))
	assert.False(t, snap.Bool("c"), "unparsable value must not enable")
	assert.True(t, snap.Bool("d"))
	assert.False(t, snap.Bool("e"), "numeric one must not enable")
	assert.False(t, snap.Bool("f"), "abbreviated true must not enable")
	assert.True(t, snap.Bool("g"))
	assert.False(t, snap.Bool("missing"))

	var empty settings.Snapshot
	assert.False(t, empty.Bool("a"))
}

func TestParse_FlattensTablesAndDottedKeys(t *testing.T) {
	snap, err := settings.Parse([]byte(`
"prometheus.export.lines" = "false"

[prometheus.export]
bugs = true
code_smells = false

[server]
listen = ":9612"
port = 9612

[[sonar]]
url = "ignored"
`))
	require.NoError(t, err)

	assert.Equal(t, "true", snap["prometheus.export.bugs"])
	assert.Equal(t, "false", snap["prometheus.export.code_smells"])
	assert.Equal(t, "false", snap["prometheus.export.lines"])
	assert.Equal(t, ":9612", snap["server.listen"])
	assert.Equal(t, "9612", snap["server.port"])
	_, ok := snap["sonar.url"]
	assert.False(t, ok)
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("EXPORT_BUGS", "true")

	snap, err := settings.Parse([]byte(`"prometheus.export.bugs" = "${EXPORT_BUGS}"`))
	require.NoError(t, err)
	assert.True(t, snap.Bool("prometheus.export.bugs"))
}

func TestParse_InvalidTOML(t *testing.T) {
	_, err := settings.Parse([]byte("[broken"))
	require.Error(t, err)
}

func TestFileSource_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("[prometheus.export]\nbugs = true\n"), 0o600))

	src := settings.NewFileSource(path)
	snap, err := src.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Bool("prometheus.export.bugs"))

	require.NoError(t, os.WriteFile(path, []byte("[prometheus.export]\nbugs = false\nlines = true\n"), 0o600))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	snap, err = src.Snapshot()
	require.NoError(t, err)
	assert.False(t, snap.Bool("prometheus.export.bugs"))
	assert.True(t, snap.Bool("prometheus.export.lines"))
}

func TestFileSource_SameSizeEditKeepsMtime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, os.WriteFile(path, []byte("[prometheus.export]\nbugs = true\nlines = false\n"), 0o600))
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	src := settings.NewFileSource(path)
	snap, err := src.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Bool("prometheus.export.bugs"))
	assert.False(t, snap.Bool("prometheus.export.lines"))

	require.NoError(t, os.WriteFile(path, []byte("[prometheus.export]\nbugs = false\nlines = true\n"), 0o600))
	require.NoError(t, os.Chtimes(path, stamp, stamp))

	snap, err = src.Snapshot()
	require.NoError(t, err)
	assert.False(t, snap.Bool("prometheus.export.bugs"))
	assert.True(t, snap.Bool("prometheus.export.lines"))
}

func TestFileSource_BrokenEditReportsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("[prometheus.export]\nbugs = true\n"), 0o600))

	src := settings.NewFileSource(path)
	_, err := src.Snapshot()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[prometheus.export\n"), 0o600))
	_, err = src.Snapshot()
	require.Error(t, err)
}

func TestFileSource_MissingFile(t *testing.T) {
	src := settings.NewFileSource(filepath.Join(t.TempDir(), "absent.toml"))
	_, err := src.Snapshot()
	require.Error(t, err)
}

func TestFileSource_Directory(t *testing.T) {
	src := settings.NewFileSource(t.TempDir())
	_, err := src.Snapshot()
	require.Error(t, err)
}

func TestStaticSource_ReturnsCopy(t *testing.T) {
	src := settings.StaticSource{"k": "true"}
	snap, err := src.Snapshot()
	require.NoError(t, err)
	snap["k"] = "false"

	again, err := src.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "true", again["k"])
	assert.Equal(t, []string{"k"}, again.Keys())
}
