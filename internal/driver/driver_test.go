package driver

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner is a commandRunner that never shells out; it lets the
// driver's argument construction and file-plumbing logic be exercised
// without the real isolate binary.
type fakeRunner struct {
	initWorkdir string

	execArgs    []string
	execExit    int
	execStdout  string
	execStderr  string
	execMetaOut string // not written by Run; tests pre-write the metadata sink themselves
}

func (f *fakeRunner) Output(ctx context.Context, name string, args []string) (string, error) {
	// --init call
	return f.initWorkdir, nil
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) (int, error) {
	f.execArgs = args
	if f.execStdout != "" {
		_, _ = stdout.Write([]byte(f.execStdout))
	}
	if f.execStderr != "" {
		_, _ = stderr.Write([]byte(f.execStderr))
	}
	return f.execExit, nil
}

func TestDriver_Init_CreatesSinkFiles(t *testing.T) {
	workdir := t.TempDir()
	d := newForTest(&fakeRunner{initWorkdir: workdir})

	sandbox, err := d.Init(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, uint32(42), sandbox.BoxID)
	assert.Equal(t, workdir, sandbox.Workdir)
	for _, p := range []string{sandbox.StdoutPath, sandbox.StderrPath, sandbox.MetadataPath} {
		_, err := os.Stat(p)
		assert.NoError(t, err, "expected sink file %s to exist", p)
	}
}

func TestDriver_UploadFile_AbsoluteAndRelativePaths(t *testing.T) {
	workdir := t.TempDir()
	d := newForTest(&fakeRunner{initWorkdir: workdir})
	sandbox := &Sandbox{BoxID: 1, Workdir: workdir}

	full, err := d.UploadFile(sandbox, "/box/main.c", []byte("int main(){}"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workdir, "box", "main.c"), full)

	data, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, "int main(){}", string(data))

	full2, err := d.UploadFile(sandbox, "relative.txt", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workdir, "relative.txt"), full2)
}

func TestDriver_Exec_UsesMetadataExitCodeOverProcessExit(t *testing.T) {
	workdir := t.TempDir()
	for _, name := range []string{"stdout", "stderr", "metadata"} {
		require.NoError(t, os.WriteFile(filepath.Join(workdir, name), nil, 0o644))
	}

	fr := &fakeRunner{initWorkdir: workdir, execExit: 1, execStdout: "hi\n"}
	d := newForTest(fr)
	sandbox := &Sandbox{
		BoxID:        7,
		Workdir:      workdir,
		StdoutPath:   filepath.Join(workdir, "stdout"),
		StderrPath:   filepath.Join(workdir, "stderr"),
		MetadataPath: filepath.Join(workdir, "metadata"),
	}

	// The fake Run doesn't populate the metadata sink itself (it streams
	// only stdout/stderr), so pre-write it to simulate isolate's own
	// side effect of writing -M before the process output is flushed.
	require.NoError(t, os.WriteFile(sandbox.MetadataPath, []byte("exit_code:0\n"), 0o644))

	result, err := d.Exec(context.Background(), sandbox, "echo hi", DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, int32(0), result.Status, "metadata exit_code should win over the raw process exit status")
	assert.Equal(t, "hi\n", result.Stdout)
}

func TestDriver_Exec_FallsBackToProcessExitWithoutMetadata(t *testing.T) {
	workdir := t.TempDir()
	for _, name := range []string{"stdout", "stderr", "metadata"} {
		require.NoError(t, os.WriteFile(filepath.Join(workdir, name), nil, 0o644))
	}

	fr := &fakeRunner{initWorkdir: workdir, execExit: 3}
	d := newForTest(fr)
	sandbox := &Sandbox{
		BoxID:        7,
		Workdir:      workdir,
		StdoutPath:   filepath.Join(workdir, "stdout"),
		StderrPath:   filepath.Join(workdir, "stderr"),
		MetadataPath: filepath.Join(workdir, "metadata"),
	}

	result, err := d.Exec(context.Background(), sandbox, "exit 3", DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, int32(3), result.Status)
}

func TestIsolateExecArgs_Order(t *testing.T) {
	sandbox := &Sandbox{BoxID: 5, MetadataPath: "/tmp/5/metadata"}
	limits := DefaultLimits()
	limits.Environment = map[string]string{"FOO": "bar"}

	args := isolateExecArgs(sandbox, limits, "/tmp/5/box/.script-1.sh")

	assert.Equal(t, []string{
		"--cg", "-s", "-b", "5", "-M/tmp/5/metadata",
		"-t", "5", "-x", "0", "-w", "10", "-k", "128000", "-p", "120",
		"--cg-mem=512000", "-f", "10240", "--cg-timing",
		"-EHOME=/tmp",
		"-EPATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
		"-EFOO=bar",
		"--run", "--",
		"/bin/bash", "/tmp/5/box/.script-1.sh",
	}, args)
}

func TestIsolateExecArgs_ProfilingPrefix(t *testing.T) {
	sandbox := &Sandbox{BoxID: 5, MetadataPath: "/tmp/5/metadata"}
	limits := DefaultLimits()
	limits.Profiling = true

	args := isolateExecArgs(sandbox, limits, "/tmp/5/box/.script-1.sh")

	idx := indexOf(args, "--run")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, []string{"--", "/usr/bin/perf_5.10", "record", "-g", "/bin/bash", "/tmp/5/box/.script-1.sh"}, args[idx+1:])
}

func TestEscapeEnvArg(t *testing.T) {
	assert.Equal(t, `a\\b\"c`, escapeEnvArg(`a\b"c`))
}

func indexOf(haystack []string, needle string) int {
	for i, v := range haystack {
		if v == needle {
			return i
		}
	}
	return -1
}
