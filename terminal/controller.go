// Package terminal starts, stops, and observes the MetaTrader 5 terminal
// process. All operations are idempotent and report expected failures
// (missing executable, process not found) through their boolean result;
// errors are reserved for the unexpected.
package terminal

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Controller manages the external terminal process by name.
type Controller struct {
	exePath     string
	processName string
	timeout     time.Duration
	log         *zap.Logger
}

// NewController returns a controller for the terminal executable at exePath
// whose running process is identified by processName (e.g. terminal64.exe).
func NewController(exePath, processName string, timeout time.Duration, log *zap.Logger) *Controller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Controller{
		exePath:     exePath,
		processName: processName,
		timeout:     timeout,
		log:         log,
	}
}

// IsRunning reports whether the terminal process is currently running.
// Probe failures are logged and read as "not running".
func (c *Controller) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if runtime.GOOS == "windows" {
		out, err := exec.CommandContext(ctx, "tasklist", "/FI", "IMAGENAME eq "+c.processName).Output()
		if err != nil {
			c.log.Warn("tasklist check failed", zap.Error(err))
			return false
		}
		return strings.Contains(strings.ToLower(string(out)), strings.ToLower(c.processName))
	}

	// pgrep exits 1 when no process matches.
	err := exec.CommandContext(ctx, "pgrep", "-x", c.shortName()).Run()
	return err == nil
}

// Launch starts the terminal if it is not already running. Returns true on
// success, including the already-running no-op case.
func (c *Controller) Launch() bool {
	if c.IsRunning() {
		c.log.Info("terminal already running")
		return true
	}

	cmd := exec.Command(c.exePath)
	if err := cmd.Start(); err != nil {
		c.log.Error("failed to launch terminal", zap.String("exe", c.exePath), zap.Error(err))
		return false
	}
	// Detach: the terminal must outlive this process.
	if err := cmd.Process.Release(); err != nil {
		c.log.Warn("failed to release terminal process", zap.Error(err))
	}

	c.log.Info("terminal launched", zap.String("exe", c.exePath))
	return true
}

// Kill force-terminates the terminal. Returns true on success, including
// the not-running no-op case.
func (c *Controller) Kill() bool {
	if !c.IsRunning() {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var err error
	if runtime.GOOS == "windows" {
		err = exec.CommandContext(ctx, "taskkill", "/F", "/IM", c.processName).Run()
	} else {
		err = exec.CommandContext(ctx, "pkill", "-x", c.shortName()).Run()
	}
	if err != nil {
		c.log.Warn("failed to kill terminal", zap.String("process", c.processName), zap.Error(err))
		return false
	}

	c.log.Info("terminal terminated", zap.String("process", c.processName))
	return true
}

// shortName strips the windows-style extension for unix process matching.
func (c *Controller) shortName() string {
	return strings.TrimSuffix(c.processName, ".exe")
}
