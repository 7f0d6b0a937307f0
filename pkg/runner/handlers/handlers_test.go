package handlers

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stagecast/stagecast/pkg/runner/protocol"
)

func TestPingHandler(t *testing.T) {
	h := &PingHandler{}
	res, err := h.Handle(context.Background(), &protocol.PingParams{Payload: "hello"}, nil)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !res.Pong || res.Payload != "hello" {
		t.Errorf("result = %+v", res)
	}
}

func TestExecHandler(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	h := &ExecHandler{}

	t.Run("captures stdout", func(t *testing.T) {
		res, err := h.Handle(context.Background(), &protocol.ExecParams{
			Command:    "echo hello",
			CaptureOut: true,
		}, nil)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if res.ExitCode != 0 {
			t.Errorf("ExitCode = %d", res.ExitCode)
		}
		if res.Stdout != "hello\n" {
			t.Errorf("Stdout = %q", res.Stdout)
		}
	})

	t.Run("reports nonzero exit", func(t *testing.T) {
		res, err := h.Handle(context.Background(), &protocol.ExecParams{
			Command: "exit 3",
		}, nil)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if res.ExitCode != 3 {
			t.Errorf("ExitCode = %d, want 3", res.ExitCode)
		}
	})

	t.Run("requires a command", func(t *testing.T) {
		if _, err := h.Handle(context.Background(), &protocol.ExecParams{}, nil); err == nil {
			t.Error("Handle() accepted an empty command")
		}
	})
}

func TestFileWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "test.conf")

	wh := &FileWriteHandler{}
	wres, err := wh.Handle(context.Background(), &protocol.FileWriteParams{
		Path:    path,
		Content: "key = value\n",
		Mode:    "0600",
		Create:  true,
	}, nil)
	if err != nil {
		t.Fatalf("write Handle() error = %v", err)
	}
	if !wres.Created || wres.BytesWritten != 12 {
		t.Errorf("write result = %+v", wres)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	rh := &FileReadHandler{}
	rres, err := rh.Handle(context.Background(), &protocol.FileReadParams{Path: path}, nil)
	if err != nil {
		t.Fatalf("read Handle() error = %v", err)
	}
	if rres.Content != "key = value\n" {
		t.Errorf("Content = %q", rres.Content)
	}
	if rres.Checksum != wres.Checksum {
		t.Errorf("checksum mismatch: %s vs %s", rres.Checksum, wres.Checksum)
	}
}

func TestFileWriteRequiresCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.conf")
	h := &FileWriteHandler{}
	if _, err := h.Handle(context.Background(), &protocol.FileWriteParams{
		Path:    path,
		Content: "x",
	}, nil); err == nil {
		t.Error("Handle() wrote a missing file with create=false")
	}
}

func TestFileWriteBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.conf")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := &FileWriteHandler{}
	res, err := h.Handle(context.Background(), &protocol.FileWriteParams{
		Path:    path,
		Content: "new",
		Backup:  true,
		Create:  true,
	}, nil)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if res.BackupPath == "" {
		t.Fatal("no backup path reported")
	}
	backup, err := os.ReadFile(res.BackupPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(backup) != "old" {
		t.Errorf("backup content = %q", backup)
	}
}

func TestStateApply(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	stateDoc := `
touch-marker:
  cmd: "touch ` + marker + `"
  creates: "` + marker + `"
write-config:
  file:
    path: "` + filepath.Join(dir, "out.conf") + `"
    content: "generated\n"
failing-step:
  cmd: "exit 1"
`
	stateDir := filepath.Join(dir, "states")
	if err := os.MkdirAll(filepath.Join(stateDir, "web"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, "web", "nginx.yaml"), []byte(stateDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	h := &StateApplyHandler{}
	res, err := h.Handle(context.Background(), &protocol.StateApplyParams{
		States:   []string{"web.nginx"},
		StateDir: stateDir,
	}, nil)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(res.Steps) != 3 {
		t.Fatalf("got %d steps, want 3: %+v", len(res.Steps), res.Steps)
	}
	if !res.Steps["web.nginx.touch-marker"].Result {
		t.Error("touch-marker failed")
	}
	if !res.Steps["web.nginx.write-config"].Result {
		t.Error("write-config failed")
	}
	if res.Steps["web.nginx.failing-step"].Result {
		t.Error("failing-step reported success")
	}

	if _, err := os.Stat(marker); err != nil {
		t.Errorf("marker not created: %v", err)
	}

	// Second apply skips the guarded step.
	res2, err := h.Handle(context.Background(), &protocol.StateApplyParams{
		States:   []string{"web.nginx"},
		StateDir: stateDir,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	step := res2.Steps["web.nginx.touch-marker"]
	if !step.Result || step.Comment == "" {
		t.Errorf("guarded step = %+v, want skipped with comment", step)
	}
}

func TestStateApplyHighstateDiscovers(t *testing.T) {
	stateDir := t.TempDir()
	doc := []byte("noop:\n  cmd: \"true\"\n")
	if err := os.WriteFile(filepath.Join(stateDir, "base.yaml"), doc, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(stateDir, "db"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, "db", "mysql.yaml"), doc, 0o644); err != nil {
		t.Fatal(err)
	}

	h := &StateApplyHandler{}
	res, err := h.Handle(context.Background(), &protocol.StateApplyParams{
		StateDir: stateDir,
		Test:     true,
	}, nil)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if _, ok := res.Steps["base.noop"]; !ok {
		t.Errorf("base.noop missing: %+v", res.Steps)
	}
	if _, ok := res.Steps["db.mysql.noop"]; !ok {
		t.Errorf("db.mysql.noop missing: %+v", res.Steps)
	}
}

func TestStateApplyMissingState(t *testing.T) {
	h := &StateApplyHandler{}
	if _, err := h.Handle(context.Background(), &protocol.StateApplyParams{
		States:   []string{"nope"},
		StateDir: t.TempDir(),
	}, nil); err == nil {
		t.Error("Handle() accepted a missing state")
	}
}

func TestStateApplyTestMode(t *testing.T) {
	stateDir := t.TempDir()
	target := filepath.Join(stateDir, "should-not-exist")
	doc := []byte("make-file:\n  cmd: \"touch " + target + "\"\n")
	if err := os.WriteFile(filepath.Join(stateDir, "dry.yaml"), doc, 0o644); err != nil {
		t.Fatal(err)
	}

	h := &StateApplyHandler{}
	res, err := h.Handle(context.Background(), &protocol.StateApplyParams{
		States:   []string{"dry"},
		StateDir: stateDir,
		Test:     true,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Steps["dry.make-file"].Result {
		t.Error("test-mode step reported failure")
	}
	if _, err := os.Stat(target); err == nil {
		t.Error("test mode executed the command")
	}
}
