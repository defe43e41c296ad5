package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hamed0406/loadprobe/internal/config"
)

// ---- test helpers ----

func execute(ctx context.Context, env map[string]string, args ...string) error {
	app := &App{LookupEnv: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}
	root := NewRootCommand(app)
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	return root.ExecuteContext(ctx)
}

func readLog(t *testing.T, dir string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, "loadprobe.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(b)
}

func mustContain(t *testing.T, log string, parts ...string) {
	t.Helper()
	for _, p := range parts {
		if !strings.Contains(log, p) {
			t.Fatalf("log is missing %s:\n%s", p, log)
		}
	}
}

// ---- tests ----

func TestHTTPDryRun_BuildsProbesAndExits(t *testing.T) {
	dir := t.TempDir()
	err := execute(context.Background(), nil,
		"http", "--url", "http://example.test", "--parallel", "3", "--dry-run", "--log-dir", dir)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	mustContain(t, readLog(t, dir), `"msg":"preflight_passed"`, `"workers":3`, `"run_id":"`, `"mode":"http"`)
}

func TestDBDryRun_DoesNotDial(t *testing.T) {
	dir := t.TempDir()
	for _, acquire := range []string{"connect", "pool"} {
		err := execute(context.Background(), nil,
			"db", "--host", "db.example.test", "--username", "app", "--password", "secret",
			"--acquire", acquire, "--dry-run", "--log-dir", dir)
		if err != nil {
			t.Fatalf("execute(%s): %v", acquire, err)
		}
	}
	log := readLog(t, dir)
	mustContain(t, log, `"mode":"db"`, `"target":"db.example.test:5432/"`)
	if strings.Contains(log, "secret") {
		t.Fatal("password leaked into the log")
	}
}

func TestEnvOverridesFlags(t *testing.T) {
	dir := t.TempDir()
	env := map[string]string{"PROBE_PARALLEL": "2"}
	err := execute(context.Background(), env,
		"http", "--url", "http://example.test", "--parallel", "5", "--dry-run", "--log-dir", dir)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	mustContain(t, readLog(t, dir), `"workers":2`)
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "probe.env")
	content := "PROBE_URL=http://example.test\nPROBE_PARALLEL=4\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("file supplies values", func(t *testing.T) {
		logDir := t.TempDir()
		if err := execute(context.Background(), nil,
			"--env-file", envFile, "http", "--dry-run", "--log-dir", logDir); err != nil {
			t.Fatalf("execute: %v", err)
		}
		mustContain(t, readLog(t, logDir), `"workers":4`)
	})

	t.Run("process environment wins", func(t *testing.T) {
		logDir := t.TempDir()
		env := map[string]string{"PROBE_PARALLEL": "2"}
		if err := execute(context.Background(), env,
			"--env-file", envFile, "http", "--dry-run", "--log-dir", logDir); err != nil {
			t.Fatalf("execute: %v", err)
		}
		mustContain(t, readLog(t, logDir), `"workers":2`)
	})

	t.Run("explicit missing file", func(t *testing.T) {
		err := execute(context.Background(), nil,
			"--env-file", filepath.Join(dir, "absent.env"), "http", "--url", "http://example.test", "--dry-run")
		if !errors.Is(err, config.ErrInvalid) {
			t.Fatalf("want configuration error, got %v", err)
		}
	})
}

func TestConfigurationErrors(t *testing.T) {
	cases := map[string][]string{
		"zero workers":     {"http", "--url", "http://example.test", "--parallel", "0"},
		"missing url":      {"http"},
		"relative url":     {"http", "--url", "example.test"},
		"zero interval":    {"http", "--url", "http://example.test", "--interval-ms", "0"},
		"no db target":     {"db"},
		"unknown acquire":  {"db", "--host", "db.example.test", "--acquire", "borrow"},
		"bad sslmode":      {"db", "--host", "db.example.test", "--sslmode", "sometimes"},
		"negative timeout": {"db", "--host", "db.example.test", "--connect-timeout-ms", "-1"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			args := append(args, "--log-dir", t.TempDir())
			if err := execute(context.Background(), nil, args...); !errors.Is(err, config.ErrInvalid) {
				t.Fatalf("want configuration error, got %v", err)
			}
		})
	}
}

func TestModeIsRequired(t *testing.T) {
	if err := execute(context.Background(), nil); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("want configuration error without a mode, got %v", err)
	}

	var cerr *config.Error
	err := execute(context.Background(), nil, "--log-level", "debug")
	if !errors.As(err, &cerr) || cerr.Option != "mode" {
		t.Fatalf("want mode error, got %v", err)
	}
}

func TestHTTPOnlyFlagRejectedInDBMode(t *testing.T) {
	err := execute(context.Background(), nil, "db", "--host", "db.example.test", "--timeout-ms", "5")
	if err == nil || !strings.Contains(err.Error(), "timeout-ms") {
		t.Fatalf("want unknown flag error, got %v", err)
	}
}

func TestRunUntilCancelled(t *testing.T) {
	var hits atomic.Int64
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := execute(ctx, nil,
		"http", "--url", srv.URL+"/health",
		"--interval-ms", "50", "--parallel", "2",
		"--connect-timeout-ms", "1000", "--timeout-ms", "1000",
		"--log-level", "debug", "--log-dir", dir)
	if err != nil {
		t.Fatalf("a cancelled run is a clean exit, got %v", err)
	}
	if n := hits.Load(); n < 2 {
		t.Fatalf("want at least 2 requests, got %d", n)
	}
	mustContain(t, readLog(t, dir),
		`"msg":"run_started"`, `"msg":"probe_ok"`, `"status":204`, `"msg":"worker_stopped"`, `"msg":"run_stopped"`)
}
