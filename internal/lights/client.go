// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package lights

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"lighting-engine/internal/config"
	"lighting-engine/internal/metrics"
)

// ExecClient sends fixture commands through an external CLI.
// Commands are queued and run by a single worker so fixture order is kept;
// when the queue is full the command is dropped (the next frame supersedes it).
//
//	<command> color <address> <hue> <saturation> <brightness> <kelvin> <ms>
//	<command> power <address> on|off
type ExecClient struct {
	command  string
	timeout  time.Duration
	simulate bool
	logger   *slog.Logger

	queue    chan []string
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewExecClient creates a new exec transport
func NewExecClient(cfg config.TransportConfig, logger *slog.Logger) *ExecClient {
	c := &ExecClient{
		command:  cfg.Command,
		timeout:  time.Duration(cfg.TimeoutMs) * time.Millisecond,
		logger:   logger,
		queue:    make(chan []string, cfg.QueueSize),
		stopChan: make(chan struct{}),
	}

	// Test that client exists and is executable
	if _, err := exec.LookPath(cfg.Command); err != nil {
		// In dev mode, we might not have the actual client
		logger.Warn("Fixture client not found, running in simulation mode", "path", cfg.Command)
		c.simulate = true
	}

	return c
}

// Start launches the command worker
func (c *ExecClient) Start() {
	c.wg.Add(1)
	go c.worker()
}

// Stop stops the worker; queued commands are discarded
func (c *ExecClient) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
}

func (c *ExecClient) worker() {
	defer c.wg.Done()
	for {
		select {
		case args := <-c.queue:
			if c.simulate {
				c.logger.Debug("Fixture command (simulated)", "args", args)
				continue
			}
			if _, err := c.exec(args...); err != nil {
				metrics.ErrorsTotal.WithLabelValues("transport").Inc()
				c.logger.Warn("Fixture command failed", "args", args, "error", err)
			}
		case <-c.stopChan:
			return
		}
	}
}

func (c *ExecClient) submit(args []string) {
	select {
	case c.queue <- args:
	default:
		metrics.TransportDropped.Inc()
		c.logger.Debug("Fixture command queue full, dropping", "args", args)
	}
}

// exec runs a fixture client command
func (c *ExecClient) exec(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.command, args...)
	output, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timeout after %v", c.timeout)
	}

	if err != nil {
		return "", fmt.Errorf("%s %v: %w (output: %s)", c.command, args, err, string(output))
	}

	return strings.TrimSpace(string(output)), nil
}

// SetColor queues a color command
func (c *ExecClient) SetColor(address string, col Color, transition time.Duration) {
	c.submit([]string{
		"color",
		address,
		strconv.FormatFloat(col.Hue, 'f', 1, 64),
		strconv.FormatFloat(col.Saturation, 'f', 1, 64),
		strconv.Itoa(col.Brightness),
		strconv.Itoa(col.Kelvin),
		strconv.FormatInt(transition.Milliseconds(), 10),
	})
}

// SetPower queues a power command
func (c *ExecClient) SetPower(address string, on bool) {
	state := "off"
	if on {
		state = "on"
	}
	c.submit([]string{"power", address, state})
}

// Simulated reports whether commands are only logged
func (c *ExecClient) Simulated() bool {
	return c.simulate
}
