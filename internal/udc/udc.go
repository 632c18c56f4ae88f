// Package udc connects the Linux USB device controller to the charger
// coordinator. Monitor polls the controller's sysfs state and Controller
// releases the gadget for enumeration.
package udc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultRoot is where the kernel lists device controllers.
const DefaultRoot = "/sys/class/udc"

// DefaultPollInterval is how often Monitor reads the controller state.
const DefaultPollInterval = 100 * time.Millisecond

// Controller states reported by the kernel that Monitor acts on.
const (
	StateNotAttached = "not attached"
	StateConfigured  = "configured"
	StateSuspended   = "suspended"
)

// ErrNoController is returned by Discover when no controller is present.
var ErrNoController = errors.New("udc: no device controller")

// Events receives bus events. charger.Coordinator implements it.
type Events interface {
	Enumerated()
	Suspended()
	Resumed()
}

// Discover returns the name of the first controller under root.
func Discover(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", root, err)
	}
	if len(entries) == 0 {
		return "", ErrNoController
	}
	return entries[0].Name(), nil
}

// Monitor turns controller state changes into Events.
type Monitor struct {
	Root     string
	Name     string
	Interval time.Duration
	Events   Events
	Logger   *log.Logger

	last string
}

func (m *Monitor) logger() *log.Logger {
	if m.Logger == nil {
		return log.Default()
	}
	return m.Logger
}

// Run polls until ctx is done. Read failures are logged once per streak
// and polling continues.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failing := false
	for {
		if err := m.Poll(); err != nil {
			if !failing {
				m.logger().Printf("udc: %v", err)
			}
			failing = true
		} else {
			failing = false
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll reads the controller state once and reports any transition.
func (m *Monitor) Poll() error {
	state, err := m.State()
	if err != nil {
		return err
	}
	prev := m.last
	if state == prev {
		return nil
	}
	m.last = state

	switch {
	case prev == StateSuspended:
		m.logger().Printf("udc: %s resumed (%s)", m.Name, state)
		m.Events.Resumed()
	case state == StateSuspended:
		m.logger().Printf("udc: %s suspended", m.Name)
		m.Events.Suspended()
	case state == StateConfigured:
		m.logger().Printf("udc: %s configured by host", m.Name)
		m.Events.Enumerated()
	}
	return nil
}

// State returns the controller's current state string.
func (m *Monitor) State() (string, error) {
	root := m.Root
	if root == "" {
		root = DefaultRoot
	}
	b, err := os.ReadFile(filepath.Join(root, m.Name, "state"))
	if err != nil {
		return "", fmt.Errorf("read state: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Controller releases the gadget to the host through soft_connect.
type Controller struct {
	Root string
	Name string
}

// FinalizeAttach connects the gadget's pull-up so the host can enumerate it.
func (c *Controller) FinalizeAttach() error {
	root := c.Root
	if root == "" {
		root = DefaultRoot
	}
	path := filepath.Join(root, c.Name, "soft_connect")
	if err := os.WriteFile(path, []byte("connect"), 0o644); err != nil {
		return fmt.Errorf("udc: soft connect %s: %w", c.Name, err)
	}
	return nil
}
