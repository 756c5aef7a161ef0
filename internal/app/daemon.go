package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const daemonUsage = `linkwire daemon

Usage:
  linkwire daemon <action> [flags]

Actions:
  install     Write serve and schedule units, daemon-reload, enable on boot
  uninstall   Stop, disable and remove the units
  start       Start both services
  stop        Stop both services
  restart     Restart both services
  status      Show status for both services

Install flags:
  --user <name>      Service user (default: $USER)
  --port <n>         API port (default: 8090)
  --workdir <path>   Directory holding .env (default: cwd)
  --binary <path>    linkwire binary (default: this executable)
`

// unit is one systemd service managed by the daemon command.
type unit struct {
	name        string
	description string
	after       string
	command     func(opts unitOptions) string
}

var daemonUnits = []unit{
	{
		name:        "linkwire-serve.service",
		description: "linkwire HTTP API",
		after:       "network.target postgresql.service",
		command: func(opts unitOptions) string {
			return opts.Binary + " serve --env .env --host 0.0.0.0 --port " + strconv.Itoa(opts.Port)
		},
	},
	{
		name:        "linkwire-schedule.service",
		description: "linkwire pipeline scheduler",
		after:       "network.target postgresql.service redis.service",
		command: func(opts unitOptions) string {
			return opts.Binary + " schedule --env .env"
		},
	},
}

func daemonUnitNames() []string {
	names := make([]string, 0, len(daemonUnits))
	for _, u := range daemonUnits {
		names = append(names, u.name)
	}
	return names
}

// unitOptions describe the systemd units written by daemon install.
type unitOptions struct {
	User    string
	WorkDir string
	Binary  string
	Port    int
}

func (u unit) render(opts unitOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Unit]\nDescription=%s\nAfter=%s\n\n", u.description, u.after)
	fmt.Fprintf(&b, "[Service]\nType=simple\nUser=%s\nWorkingDirectory=%s\nExecStart=%s\n", opts.User, opts.WorkDir, u.command(opts))
	b.WriteString("Restart=on-failure\nRestartSec=5\n\n")
	b.WriteString("[Install]\nWantedBy=multi-user.target\n")
	return b.String()
}

// daemonManager performs the systemd side effects; tests swap the unit
// directory and the systemctl runner.
type daemonManager struct {
	unitDir   string
	systemctl func(args ...string) error
	isRoot    func() bool
}

func newDaemonManager() *daemonManager {
	return &daemonManager{
		unitDir:   "/etc/systemd/system",
		systemctl: runSystemctl,
		isRoot:    func() bool { return os.Geteuid() == 0 },
	}
}

func runDaemon(args []string) int {
	return newDaemonManager().run(args)
}

func (m *daemonManager) run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, daemonUsage)
		return 2
	}

	action := strings.ToLower(strings.TrimSpace(args[0]))
	var err error
	switch action {
	case "help", "-h", "--help":
		fmt.Fprint(os.Stderr, daemonUsage)
		return 0
	case "install":
		opts, code, ok := parseInstallFlags(args[1:])
		if !ok {
			return code
		}
		err = m.install(opts)
	case "uninstall", "start", "stop", "restart", "status":
		fs := flag.NewFlagSet("daemon "+action, flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		if code, ok := parseFlags(fs, args[1:]); !ok {
			return code
		}
		if fs.NArg() != 0 {
			fmt.Fprintf(os.Stderr, "daemon %s does not accept positional args\n", action)
			return 2
		}
		if action == "uninstall" {
			err = m.uninstall()
		} else {
			err = m.control(action)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown daemon action: %s\n\n", args[0])
		fmt.Fprint(os.Stderr, daemonUsage)
		return 2
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func parseInstallFlags(args []string) (unitOptions, int, bool) {
	fs := flag.NewFlagSet("daemon install", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	defaultUser := strings.TrimSpace(os.Getenv("USER"))
	if defaultUser == "" {
		defaultUser = "root"
	}
	userName := fs.String("user", defaultUser, "Run services as this Linux user")
	port := fs.Int("port", 8090, "Port for linkwire serve")
	workDir := fs.String("workdir", "", "Working directory holding the .env file (default: current directory)")
	binary := fs.String("binary", "", "Path to the linkwire binary (default: this executable)")

	if code, ok := parseFlags(fs, args); !ok {
		return unitOptions{}, code, false
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon install does not accept positional args")
		return unitOptions{}, 2, false
	}
	if err := validatePort(*port, "--port"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return unitOptions{}, 2, false
	}
	if strings.TrimSpace(*userName) == "" {
		fmt.Fprintln(os.Stderr, "--user must not be empty")
		return unitOptions{}, 2, false
	}

	opts, err := resolveUnitOptions(strings.TrimSpace(*userName), *workDir, *binary, *port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve install paths: %v\n", err)
		return unitOptions{}, 2, false
	}
	return opts, 0, true
}

func (m *daemonManager) requireRoot(action string) error {
	if m.isRoot() {
		return nil
	}
	return fmt.Errorf("daemon %s requires root privileges; run with sudo: sudo linkwire daemon %s", action, action)
}

func (m *daemonManager) install(opts unitOptions) error {
	if err := m.requireRoot("install"); err != nil {
		return err
	}
	for _, u := range daemonUnits {
		path := filepath.Join(m.unitDir, u.name)
		if err := os.WriteFile(path, []byte(u.render(opts)), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := m.systemctl("daemon-reload"); err != nil {
		return err
	}
	if err := m.systemctl(append([]string{"enable"}, daemonUnitNames()...)...); err != nil {
		return err
	}

	fmt.Printf("Installed %s\n", strings.Join(daemonUnitNames(), " and "))
	fmt.Println("Services are enabled on boot. Run `linkwire daemon start` to start them now.")
	return nil
}

// uninstall keeps going when stop or disable fail so a half-installed
// setup can still be removed.
func (m *daemonManager) uninstall() error {
	if err := m.requireRoot("uninstall"); err != nil {
		return err
	}
	names := daemonUnitNames()
	for _, verb := range []string{"stop", "disable"} {
		if err := m.systemctl(append([]string{verb}, names...)...); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
	for _, name := range names {
		path := filepath.Join(m.unitDir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	if err := m.systemctl("daemon-reload"); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", strings.Join(names, " and "))
	return nil
}

func (m *daemonManager) control(action string) error {
	args := []string{action}
	if action == "status" {
		args = append(args, "--no-pager")
	} else if err := m.requireRoot(action); err != nil {
		return err
	}
	return m.systemctl(append(args, daemonUnitNames()...)...)
}

func validatePort(port int, flagName string) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535", flagName)
	}
	return nil
}

func resolveUnitOptions(userName, workDir, binary string, port int) (unitOptions, error) {
	dir := strings.TrimSpace(workDir)
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return unitOptions{}, fmt.Errorf("resolve working directory: %w", err)
		}
		dir = cwd
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return unitOptions{}, fmt.Errorf("normalize path %q: %w", dir, err)
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return unitOptions{}, fmt.Errorf("%q is not a directory", absDir)
	}

	bin := strings.TrimSpace(binary)
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return unitOptions{}, fmt.Errorf("resolve executable: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		bin = exe
	}
	absBin, err := filepath.Abs(bin)
	if err != nil {
		return unitOptions{}, fmt.Errorf("normalize path %q: %w", bin, err)
	}

	return unitOptions{User: userName, WorkDir: absDir, Binary: absBin, Port: port}, nil
}

func runSystemctl(args ...string) error {
	cmd := exec.Command("systemctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("systemctl %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
