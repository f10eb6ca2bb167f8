package database_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/upgradekit/odooup/compose"
	"github.com/upgradekit/odooup/database"
	"github.com/upgradekit/odooup/fetch"
	"github.com/upgradekit/odooup/genericclioptions"
	"github.com/upgradekit/odooup/upgradeerrors"

	"github.com/google/go-cmp/cmp"
)

func newController(t *testing.T, recorder *compose.Recorder) *database.Controller {
	t.Helper()
	return database.NewController(genericclioptions.NewTestIOStreamsDiscard(), recorder, t.TempDir())
}

func findCall(calls []compose.Call, method string) (compose.Call, bool) {
	for _, c := range calls {
		if c.Method == method {
			return c, true
		}
	}

	return compose.Call{}, false
}

func TestController_Start(t *testing.T) {
	recorder := &compose.Recorder{}
	controller := newController(t, recorder)

	if err := controller.Start(context.Background(), "13"); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	data, err := os.ReadFile(controller.ComposePath())
	if err != nil {
		t.Fatalf("descriptor not written: %v", err)
	}

	descriptor := string(data)
	for _, want := range []string{
		"postgres:13",
		database.ServiceName,
		database.NetworkName,
		"POSTGRES_USER=odoo",
	} {
		if !strings.Contains(descriptor, want) {
			t.Errorf("descriptor missing %q:\n%s", want, descriptor)
		}
	}

	if diff := cmp.Diff([]string{"UpDetached"}, recorder.CallMethods()); diff != "" {
		t.Errorf("call sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestController_WaitReady_Cancelled(t *testing.T) {
	recorder := &compose.Recorder{
		ExecFn: func(context.Context, string, ...string) (string, error) {
			return "", errors.New("no response")
		},
	}
	controller := newController(t, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := controller.WaitReady(ctx)
	if !errors.Is(err, upgradeerrors.ErrDatabaseNotReady) {
		t.Errorf("WaitReady() = %v, want ErrDatabaseNotReady", err)
	}
}

func TestController_WaitReady_Immediate(t *testing.T) {
	recorder := &compose.Recorder{}
	controller := newController(t, recorder)

	if err := controller.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady() failed: %v", err)
	}

	call, ok := findCall(recorder.Calls, "Exec")
	if !ok {
		t.Fatal("readiness probe never executed")
	}

	if !strings.Contains(strings.Join(call.Args, " "), "pg_isready") {
		t.Errorf("unexpected readiness probe: %v", call.Args)
	}
}

func TestController_CurrentVersion_FallbackOrder(t *testing.T) {
	var queries []string

	recorder := &compose.Recorder{
		ExecFn: func(_ context.Context, _ string, cmd ...string) (string, error) {
			q := cmd[len(cmd)-1]
			queries = append(queries, q)

			switch len(queries) {
			case 1:
				return "", errors.New(`relation "ir_module_module" does not exist`)
			case 2:
				return " 14.0.1.3 \n", nil
			default:
				return "", nil
			}
		},
	}
	controller := newController(t, recorder)

	version, err := controller.CurrentVersion(context.Background())
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}

	if version != "14.0.1.3" {
		t.Errorf("version = %q, want 14.0.1.3", version)
	}

	if len(queries) != 2 {
		t.Fatalf("queries executed = %d, want 2", len(queries))
	}

	if !strings.Contains(queries[0], "state = 'installed'") {
		t.Errorf("first query must check the installed module state: %s", queries[0])
	}

	if !strings.Contains(queries[1], "ir_config_parameter") {
		t.Errorf("second query must read the configuration parameter: %s", queries[1])
	}
}

func TestController_CurrentVersion_AllEmpty(t *testing.T) {
	count := 0

	recorder := &compose.Recorder{
		ExecFn: func(context.Context, string, ...string) (string, error) {
			count++
			return "\n", nil
		},
	}
	controller := newController(t, recorder)

	_, err := controller.CurrentVersion(context.Background())
	if !errors.Is(err, upgradeerrors.ErrVersionUnknown) {
		t.Errorf("CurrentVersion() = %v, want ErrVersionUnknown", err)
	}

	if count != 3 {
		t.Errorf("queries executed = %d, want all 3 strategies", count)
	}
}

func TestController_Restore_RawDump(t *testing.T) {
	dump := filepath.Join(t.TempDir(), fetch.RawDumpName)
	if err := os.WriteFile(dump, []byte("PGDMP"), 0o644); err != nil {
		t.Fatalf("write dump: %v", err)
	}

	recorder := &compose.Recorder{}
	controller := newController(t, recorder)

	artifact := fetch.Artifact{Kind: fetch.KindRawDump, Path: dump}
	if err := controller.Restore(context.Background(), artifact, t.TempDir()); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	copyCall, ok := findCall(recorder.Calls, "CopyTo")
	if !ok {
		t.Fatal("dump never copied into the container")
	}

	if copyCall.Args[0] != dump {
		t.Errorf("copied %s, want %s", copyCall.Args[0], dump)
	}

	var restoreArgs string

	for _, c := range recorder.Calls {
		if c.Method == "Exec" && strings.Contains(strings.Join(c.Args, " "), "pg_restore") {
			restoreArgs = strings.Join(c.Args, " ")
		}
	}

	if restoreArgs == "" {
		t.Fatal("pg_restore never executed")
	}

	for _, flag := range []string{
		"--no-owner", "--no-privileges", "--clean", "--if-exists",
		"--disable-triggers", "--single-transaction",
	} {
		if !strings.Contains(restoreArgs, flag) {
			t.Errorf("pg_restore missing %s: %s", flag, restoreArgs)
		}
	}
}

func TestController_Restore_Archive(t *testing.T) {
	stagingDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(stagingDir, database.DumpFileName), []byte("SELECT 1;"), 0o644); err != nil {
		t.Fatalf("write dump: %v", err)
	}

	blobDir := filepath.Join(stagingDir, "filestore", "ab")
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		t.Fatalf("mkdir filestore: %v", err)
	}

	if err := os.WriteFile(filepath.Join(blobDir, "abc123"), []byte("blob"), 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}

	recorder := &compose.Recorder{}
	controller := newController(t, recorder)
	filestoreDir := filepath.Join(t.TempDir(), "filestore")

	artifact := fetch.Artifact{Kind: fetch.KindArchive, Path: stagingDir}
	if err := controller.Restore(context.Background(), artifact, filestoreDir); err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(filestoreDir, "ab", "abc123")); err != nil {
		t.Errorf("filestore not copied: %v", err)
	}

	var loaded bool

	for _, c := range recorder.Calls {
		if c.Method == "Exec" && strings.Contains(strings.Join(c.Args, " "), "psql") {
			loaded = true
		}
	}

	if !loaded {
		t.Error("psql restore never executed")
	}
}

func TestController_Restore_LoadFailure(t *testing.T) {
	dump := filepath.Join(t.TempDir(), fetch.RawDumpName)
	if err := os.WriteFile(dump, []byte("PGDMP"), 0o644); err != nil {
		t.Fatalf("write dump: %v", err)
	}

	recorder := &compose.Recorder{
		ExecFn: func(_ context.Context, _ string, cmd ...string) (string, error) {
			if cmd[0] == "pg_restore" {
				return "", errors.New("exit status 1")
			}

			return "", nil
		},
	}
	controller := newController(t, recorder)

	artifact := fetch.Artifact{Kind: fetch.KindRawDump, Path: dump}
	err := controller.Restore(context.Background(), artifact, t.TempDir())

	var restoreErr *upgradeerrors.RestoreError
	if !errors.As(err, &restoreErr) {
		t.Errorf("Restore() = %v, want RestoreError", err)
	}
}

func TestLocateDump(t *testing.T) {
	t.Run("conventional name wins", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"aaa.sql", database.DumpFileName} {
			if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
		}

		got, err := database.LocateDump(dir)
		if err != nil {
			t.Fatalf("LocateDump() failed: %v", err)
		}

		if want := filepath.Join(dir, database.DumpFileName); got != want {
			t.Errorf("LocateDump() = %s, want %s", got, want)
		}
	})

	t.Run("first sql file in lexical order", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"b.sql", "a.sql", "readme.txt"} {
			if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
		}

		got, err := database.LocateDump(dir)
		if err != nil {
			t.Fatalf("LocateDump() failed: %v", err)
		}

		if want := filepath.Join(dir, "a.sql"); got != want {
			t.Errorf("LocateDump() = %s, want %s", got, want)
		}
	})

	t.Run("no dump", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "readme.txt"), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}

		_, err := database.LocateDump(dir)
		if !errors.Is(err, upgradeerrors.ErrNoDumpInArchive) {
			t.Errorf("LocateDump() = %v, want ErrNoDumpInArchive", err)
		}
	})
}

func TestController_TearDown(t *testing.T) {
	t.Run("no-op without descriptor", func(t *testing.T) {
		recorder := &compose.Recorder{}
		controller := newController(t, recorder)

		if err := controller.TearDown(context.Background()); err != nil {
			t.Fatalf("TearDown() failed: %v", err)
		}

		if len(recorder.Calls) != 0 {
			t.Errorf("unexpected executor calls: %v", recorder.CallMethods())
		}
	})

	t.Run("removes service and volume", func(t *testing.T) {
		recorder := &compose.Recorder{}
		controller := newController(t, recorder)

		if err := controller.Start(context.Background(), "13"); err != nil {
			t.Fatalf("Start() failed: %v", err)
		}

		if err := controller.TearDown(context.Background()); err != nil {
			t.Fatalf("TearDown() failed: %v", err)
		}

		call, ok := findCall(recorder.Calls, "Down")
		if !ok {
			t.Fatal("Down never called")
		}

		want := []string{database.ComposeFileName, "-v"}
		if diff := cmp.Diff(want, call.Args); diff != "" {
			t.Errorf("down args mismatch (-want +got):\n%s", diff)
		}
	})
}
