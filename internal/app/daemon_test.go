package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingSystemctl struct {
	calls []string
	fail  map[string]error
}

func (r *recordingSystemctl) run(args ...string) error {
	r.calls = append(r.calls, strings.Join(args, " "))
	return r.fail[args[0]]
}

func newTestManager(t *testing.T, root bool) (*daemonManager, *recordingSystemctl) {
	t.Helper()
	rec := &recordingSystemctl{fail: map[string]error{}}
	return &daemonManager{
		unitDir:   t.TempDir(),
		systemctl: rec.run,
		isRoot:    func() bool { return root },
	}, rec
}

var testUnitOptions = unitOptions{
	User:    "linkwire",
	WorkDir: "/srv/linkwire",
	Binary:  "/usr/local/bin/linkwire",
	Port:    9000,
}

func TestUnitRender(t *testing.T) {
	t.Parallel()

	serve := daemonUnits[0].render(testUnitOptions)
	for _, want := range []string{
		"Description=linkwire HTTP API",
		"User=linkwire",
		"WorkingDirectory=/srv/linkwire",
		"ExecStart=/usr/local/bin/linkwire serve --env .env --host 0.0.0.0 --port 9000",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(serve, want) {
			t.Fatalf("serve unit missing %q:\n%s", want, serve)
		}
	}

	schedule := daemonUnits[1].render(testUnitOptions)
	if !strings.Contains(schedule, "ExecStart=/usr/local/bin/linkwire schedule --env .env") {
		t.Fatalf("schedule unit has wrong ExecStart:\n%s", schedule)
	}
	if !strings.Contains(schedule, "redis.service") {
		t.Fatalf("schedule unit should start after redis:\n%s", schedule)
	}
}

func TestDaemonInstallWritesUnitsAndEnables(t *testing.T) {
	t.Parallel()

	m, rec := newTestManager(t, true)
	if err := m.install(testUnitOptions); err != nil {
		t.Fatalf("install() error = %v", err)
	}

	for _, name := range daemonUnitNames() {
		raw, err := os.ReadFile(filepath.Join(m.unitDir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !strings.Contains(string(raw), "User=linkwire") {
			t.Fatalf("%s content:\n%s", name, raw)
		}
	}
	want := []string{"daemon-reload", "enable linkwire-serve.service linkwire-schedule.service"}
	if strings.Join(rec.calls, "|") != strings.Join(want, "|") {
		t.Fatalf("systemctl calls = %v, want %v", rec.calls, want)
	}
}

func TestDaemonInstallRequiresRoot(t *testing.T) {
	t.Parallel()

	m, rec := newTestManager(t, false)
	if err := m.install(testUnitOptions); err == nil || !strings.Contains(err.Error(), "sudo") {
		t.Fatalf("install() error = %v, want root error", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("systemctl should not run, got %v", rec.calls)
	}
}

func TestDaemonUninstallContinuesPastStopFailure(t *testing.T) {
	t.Parallel()

	m, rec := newTestManager(t, true)
	if err := m.install(testUnitOptions); err != nil {
		t.Fatalf("install() error = %v", err)
	}
	rec.calls = nil
	rec.fail["stop"] = errors.New("not loaded")

	if err := m.uninstall(); err != nil {
		t.Fatalf("uninstall() error = %v", err)
	}
	for _, name := range daemonUnitNames() {
		if _, err := os.Stat(filepath.Join(m.unitDir, name)); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s still present: %v", name, err)
		}
	}
	if len(rec.calls) != 3 || rec.calls[2] != "daemon-reload" {
		t.Fatalf("systemctl calls = %v", rec.calls)
	}
}

func TestDaemonStatusDoesNotNeedRoot(t *testing.T) {
	t.Parallel()

	m, rec := newTestManager(t, false)
	if err := m.control("status"); err != nil {
		t.Fatalf("control(status) error = %v", err)
	}
	if rec.calls[0] != "status --no-pager linkwire-serve.service linkwire-schedule.service" {
		t.Fatalf("systemctl call = %q", rec.calls[0])
	}
	if err := m.control("restart"); err == nil {
		t.Fatalf("control(restart) should need root")
	}
}

func TestDaemonRunRejectsUnknownAction(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, true)
	if code := m.run([]string{"explode"}); code != 2 {
		t.Fatalf("run(explode) = %d, want 2", code)
	}
	if code := m.run([]string{"status", "extra"}); code != 2 {
		t.Fatalf("run(status extra) = %d, want 2", code)
	}
}

func TestResolveUnitOptions(t *testing.T) {
	t.Parallel()

	if _, err := resolveUnitOptions("root", "/definitely/not/a/dir", "/usr/local/bin/linkwire", 8090); err == nil {
		t.Fatalf("resolveUnitOptions() expected error for missing workdir")
	}

	dir := t.TempDir()
	opts, err := resolveUnitOptions("svc", dir, "/opt/linkwire/bin/linkwire", 8091)
	if err != nil {
		t.Fatalf("resolveUnitOptions() error = %v", err)
	}
	if opts.WorkDir != dir || opts.Binary != "/opt/linkwire/bin/linkwire" || opts.Port != 8091 || opts.User != "svc" {
		t.Fatalf("resolveUnitOptions() = %+v", opts)
	}
}

func TestValidatePort(t *testing.T) {
	t.Parallel()

	if err := validatePort(8090, "--port"); err != nil {
		t.Fatalf("validatePort(8090) error = %v", err)
	}
	for _, port := range []int{0, -1, 65536} {
		if err := validatePort(port, "--port"); err == nil {
			t.Fatalf("validatePort(%d) expected error", port)
		}
	}
}
