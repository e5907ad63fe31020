//go:build linux || darwin

package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/dmitrijs2005/vaultkeeper/internal/filex"
	"golang.org/x/sys/unix"
)

// pidService runs the process detached and tracks it through a PID file.
type pidService struct {
	goos string
	opts Options
}

func newPIDService(goos string, opts Options) (Service, error) {
	return &pidService{goos: goos, opts: opts}, nil
}

func (s *pidService) Install(ctx context.Context) error {
	path, content, err := unitFile(s.goos, s.opts)
	if err != nil {
		return err
	}
	if err := filex.EnsureDir(s.opts.StateDir); err != nil {
		return err
	}
	return filex.WriteFileAtomic(path, content, 0o644)
}

func (s *pidService) Uninstall(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	path, _, err := unitFile(s.goos, s.opts)
	if err != nil {
		return err
	}
	return filex.RemoveIfExists(path)
}

// readPID returns the live PID from the PID file, or 0. Invalid or stale
// PID files are removed.
func (s *pidService) readPID() (int, error) {
	b, err := os.ReadFile(s.opts.pidPath())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, filex.RemoveIfExists(s.opts.pidPath())
	}

	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return 0, filex.RemoveIfExists(s.opts.pidPath())
	}
	return pid, nil
}

func (s *pidService) IsRunning(ctx context.Context) (bool, error) {
	pid, err := s.readPID()
	return pid > 0, err
}

func (s *pidService) Start(ctx context.Context) error {
	pid, err := s.readPID()
	if err != nil {
		return err
	}
	if pid > 0 {
		return nil
	}

	if err := filex.EnsureDir(s.opts.StateDir); err != nil {
		return err
	}
	logFile, err := os.OpenFile(s.opts.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, filex.PrivateFileMode)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(s.opts.Executable, s.opts.Args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	if err := filex.WriteFileAtomic(s.opts.pidPath(), []byte(strconv.Itoa(cmd.Process.Pid)), filex.PrivateFileMode); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("write pid file: %w", err)
	}
	return cmd.Process.Release()
}

func (s *pidService) Stop(ctx context.Context) error {
	pid, err := s.readPID()
	if err != nil {
		return err
	}
	if pid > 0 {
		if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("stop daemon: %w", err)
		}
	}
	return filex.RemoveIfExists(s.opts.pidPath())
}

func (s *pidService) Logs(ctx context.Context, n int) ([]string, error) {
	f, err := os.Open(s.opts.logPath())
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines := make([]string, 0, max(n, 0))
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if n <= 0 {
			continue
		}
		if len(lines) == n {
			lines = append(lines[:0], lines[1:]...)
		}
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
