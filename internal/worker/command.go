package worker

import (
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vitaliisemenov/filesync/internal/config"
)

// Command is one composed transfer invocation targeting a single
// destination.
type Command struct {
	IP   string
	Line string
}

// TransferOptions are the per-listen settings that shape the command
// line, plus the generation-matched GLOBAL make_remote_dir switch.
type TransferOptions struct {
	RemoteIPs     []string
	Checksum      bool
	Compress      bool
	Exclude       string
	MakeRemoteDir bool
}

// readOptions collects the transfer options for a listen section from
// the generation that owns it.
func readOptions(store *config.Store, listen string, gen config.Generation) TransferOptions {
	get := func(key string) string {
		v, _ := store.Get(key, listen, gen)
		return v
	}
	globalGet := func(key string) string {
		v, _ := store.Get(key, config.SectionGlobal, gen)
		return v
	}

	var ips []string
	for _, ip := range strings.Split(get("remote_ip"), ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			ips = append(ips, ip)
		}
	}
	return TransferOptions{
		RemoteIPs:     ips,
		Checksum:      get("checksum") == "true",
		Compress:      get("compress") == "true",
		Exclude:       get("exclude"),
		MakeRemoteDir: globalGet("make_remote_dir") == "true",
	}
}

// ComposeCommand builds the shell line replicating task to one
// destination. The task may be a file or a directory; either way the
// transfer runs from the parent so the remote ends up with the same
// layout:
//
//	cd <dir> && <rsync> -a[c][z] [--exclude=…] --delete --rsh=ssh <base> <user>@<ip>:<dir>
//
// A single exclude pattern must use the bare --exclude=VAL form; the
// braced form is a shell brace expansion and silently degrades with
// fewer than two elements.
func ComposeCommand(rsyncTool, rsyncUser, task, ip string, opts TransferOptions) string {
	dir := filepath.Dir(task)
	base := filepath.Base(task)

	var b strings.Builder
	fmt.Fprintf(&b, "%s -a", rsyncTool)
	if opts.Checksum {
		b.WriteString("c")
	}
	if opts.Compress {
		b.WriteString("z")
	}
	if opts.Exclude != "" {
		patterns := strings.Split(opts.Exclude, ",")
		if len(patterns) == 1 {
			fmt.Fprintf(&b, " --exclude=%s", patterns[0])
		} else {
			fmt.Fprintf(&b, " --exclude={%s}", opts.Exclude)
		}
	}
	fmt.Fprintf(&b, " --delete --rsh=ssh %s %s@%s:%s", base, rsyncUser, ip, dir)

	cmd := fmt.Sprintf("cd %s && %s", dir, b.String())
	if opts.MakeRemoteDir {
		// Creating the remote parent first avoids transfer errors when
		// full_sync is off and the destination tree was never seeded.
		cmd = fmt.Sprintf("ssh %s@%s 'mkdir -p %s'; %s", rsyncUser, ip, dir, cmd)
	}
	return cmd
}

// CommandRunner executes a composed shell line and reports its exit
// code with the captured output streams. Tests substitute a fake; the
// daemon uses ShellRunner.
type CommandRunner interface {
	Run(line string) (exitCode int, stdout, stderr string, err error)
}

// ShellRunner executes command lines through the shell. The shell is
// required for the braced multi-exclude form, which relies on brace
// expansion.
type ShellRunner struct {
	Shell string
}

// Run executes the line and returns its exit code with both streams
// captured. Pipes are fully consumed before Wait so the child never
// blocks on a full pipe.
func (r ShellRunner) Run(line string) (int, string, string, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/bash"
	}
	cmd := exec.Command(shell, "-c", line)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := stdout.String()
	detail := strings.TrimSpace(stderr.String())
	if err == nil {
		return 0, out, detail, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), out, detail, nil
	}
	return -1, out, detail, err
}
