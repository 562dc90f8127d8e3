package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComposeCommandBare(t *testing.T) {
	cmd := ComposeCommand("/usr/bin/rsync", "ubp", "/data", "10.0.0.2", TransferOptions{})
	assert.Equal(t,
		"cd / && /usr/bin/rsync -a --delete --rsh=ssh data ubp@10.0.0.2:/",
		cmd)
}

func TestComposeCommandFlags(t *testing.T) {
	cmd := ComposeCommand("/usr/bin/rsync", "ubp", "/data/sub", "10.0.0.2", TransferOptions{
		Checksum: true,
		Compress: true,
	})
	assert.Contains(t, cmd, "rsync -acz ")
	assert.Contains(t, cmd, "cd /data && ")
	assert.Contains(t, cmd, " sub ubp@10.0.0.2:/data")
}

func TestComposeCommandSingleExcludeHasNoBraces(t *testing.T) {
	cmd := ComposeCommand("/usr/bin/rsync", "ubp", "/data", "10.0.0.2", TransferOptions{
		Exclude: "a",
	})
	assert.Contains(t, cmd, "--exclude=a ")
	assert.NotContains(t, cmd, "{")
}

func TestComposeCommandMultiExcludeUsesBraces(t *testing.T) {
	cmd := ComposeCommand("/usr/bin/rsync", "ubp", "/data", "10.0.0.2", TransferOptions{
		Exclude: "a,b",
	})
	assert.Contains(t, cmd, "--exclude={a,b}")
}

func TestComposeCommandMakeRemoteDirPrefix(t *testing.T) {
	cmd := ComposeCommand("/usr/bin/rsync", "ubp", "/data/sub", "10.0.0.9", TransferOptions{
		MakeRemoteDir: true,
	})
	assert.Equal(t,
		"ssh ubp@10.0.0.9 'mkdir -p /data'; cd /data && /usr/bin/rsync -a --delete --rsh=ssh sub ubp@10.0.0.9:/data",
		cmd)
}

func TestShellRunnerExitCodes(t *testing.T) {
	r := ShellRunner{Shell: "/bin/sh"}

	code, _, _, err := r.Run("true")
	assert.NoError(t, err)
	assert.Equal(t, 0, code)

	code, _, _, err = r.Run("exit 23")
	assert.NoError(t, err)
	assert.Equal(t, 23, code)

	code, out, detail, err := r.Run("echo alive; echo oops >&2; exit 1")
	assert.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, "alive\n", out)
	assert.Equal(t, "oops", detail)
}
