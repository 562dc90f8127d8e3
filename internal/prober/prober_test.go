package prober

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/filesync/internal/config"
	"github.com/vitaliisemenov/filesync/internal/state"
)

// fakeProbeRunner replies with "<ip> is alive" lines for its alive set
// and records the command it was asked to run.
type fakeProbeRunner struct {
	alive   []string
	lastCmd string
}

func (f *fakeProbeRunner) Run(line string) (int, string, string, error) {
	f.lastCmd = line
	var out strings.Builder
	for _, ip := range f.alive {
		fmt.Fprintf(&out, "%s is alive\n", ip)
	}
	return 0, out.String(), "", nil
}

func newProberFixture(t *testing.T, listens map[string]string) (*Prober, *state.StringSet, *fakeProbeRunner, *config.Store) {
	t.Helper()
	content := `[GLOBAL]
check_period = 60
sync_period = 1

[__GLOBAL_REQUIRED__]
int_type = sync_period

[__LISTEN_REQUIRED__]
str_type = remote_ip
`
	for listen, body := range listens {
		content += fmt.Sprintf("\n[%s]\n%s\n", listen, body)
	}
	iniPath := filepath.Join(t.TempDir(), "filesync.ini")
	require.NoError(t, os.WriteFile(iniPath, []byte(content), 0o644))

	logger := slog.New(slog.DiscardHandler)
	store := config.NewStore(iniPath, state.NewStringSet(), logger)
	require.NoError(t, store.Init())

	live := state.NewStringSet()
	runner := &fakeProbeRunner{}
	p := New("/usr/sbin/fping", t.TempDir(), store, live, runner, logger)
	return p, live, runner, store
}

func TestProbeMarksAliveIPs(t *testing.T) {
	root := t.TempDir()
	p, live, runner, _ := newProberFixture(t, map[string]string{
		root: "remote_ip = 10.0.0.2,10.0.0.3",
	})
	runner.alive = []string{"10.0.0.2"}

	require.False(t, p.Ready())
	p.Probe()

	assert.True(t, live.Contains("10.0.0.2"))
	assert.False(t, live.Contains("10.0.0.3"))
	assert.True(t, p.Ready())
}

func TestProbeWritesIPListAndPipesToTool(t *testing.T) {
	root := t.TempDir()
	p, _, runner, _ := newProberFixture(t, map[string]string{
		root: "remote_ip = 10.0.0.2",
	})
	p.Probe()

	data, err := os.ReadFile(p.IPListFile())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", string(data))
	assert.Equal(t, fmt.Sprintf("cat %s | sudo /usr/sbin/fping", p.IPListFile()), runner.lastCmd)
}

func TestProbeRemovesIPsThatWentDark(t *testing.T) {
	root := t.TempDir()
	p, live, runner, _ := newProberFixture(t, map[string]string{
		root: "remote_ip = 10.0.0.2",
	})
	runner.alive = []string{"10.0.0.2"}
	p.Probe()
	require.True(t, live.Contains("10.0.0.2"))

	runner.alive = nil
	p.Probe()
	assert.False(t, live.Contains("10.0.0.2"))
}

func TestProbeSkipsMalformedIPs(t *testing.T) {
	root := t.TempDir()
	p, live, runner, _ := newProberFixture(t, map[string]string{
		root: "remote_ip = not-an-ip,10.0.0.2",
	})
	runner.alive = []string{"10.0.0.2"}
	p.Probe()

	data, err := os.ReadFile(p.IPListFile())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "not-an-ip")
	assert.True(t, live.Contains("10.0.0.2"))
	assert.Equal(t, 1, live.Len())
}

func TestProbeCollectsBothGenerations(t *testing.T) {
	rootA := t.TempDir()
	p, live, runner, store := newProberFixture(t, map[string]string{
		rootA: "remote_ip = 10.0.0.2",
	})

	// Reload moves the config to a different root and destination; the
	// prior destination must still be probed via the previous
	// generation so in-flight work can complete.
	rootB := t.TempDir()
	content := fmt.Sprintf(`[GLOBAL]
check_period = 60
sync_period = 1

[__GLOBAL_REQUIRED__]
int_type = sync_period

[__LISTEN_REQUIRED__]
str_type = remote_ip

[%s]
remote_ip = 10.0.0.9
`, rootB)
	// Overwrite the same file the store was created from.
	require.NoError(t, os.WriteFile(store.Path(), []byte(content), 0o644))
	require.NoError(t, store.Reload())

	runner.alive = []string{"10.0.0.2", "10.0.0.9"}
	p.Probe()

	assert.True(t, live.Contains("10.0.0.2"), "previous-generation destination still probed")
	assert.True(t, live.Contains("10.0.0.9"))
}
