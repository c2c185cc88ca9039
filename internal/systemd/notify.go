// Package systemd reports service readiness, status and watchdog pings to the
// service manager. Every call is a no-op when not started by systemd.
package systemd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/framecast/internal/events"
	"github.com/smazurov/framecast/internal/logging"
)

// Notifier sends sd_notify messages.
type Notifier struct {
	logger logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNotifier creates a notifier.
func NewNotifier(logger logging.Logger) *Notifier {
	return &Notifier{logger: logger}
}

func (n *Notifier) send(state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.logger.Debug("sd_notify failed", "state", state, "error", err)
	}
	return sent
}

// Ready reports startup complete and starts the watchdog loop when the unit
// sets WatchdogSec.
func (n *Notifier) Ready(ctx context.Context) {
	if !n.send(daemon.SdNotifyReady) {
		return
	}
	n.logger.Debug("Notified systemd of readiness")

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return
	}
	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Add(1)
	go n.watchdog(ctx, interval/2)
}

func (n *Notifier) watchdog(ctx context.Context, every time.Duration) {
	defer n.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) {
	n.send("STATUS=" + fmt.Sprintf(format, args...))
}

// FollowStreams mirrors stream state changes into the status line. The
// returned function unsubscribes.
func (n *Notifier) FollowStreams(bus *events.Bus) func() {
	return events.On(bus, func(e events.StreamStateChangedEvent) {
		if e.IsStreaming() {
			n.Status("streaming %s", e.Source)
			return
		}
		if e.Reason != "" {
			n.Status("idle (%s)", e.Reason)
			return
		}
		n.Status("idle")
	})
}

// Stopping reports shutdown and stops the watchdog loop.
func (n *Notifier) Stopping() {
	n.mu.Lock()
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	n.mu.Unlock()
	n.wg.Wait()
	n.send(daemon.SdNotifyStopping)
}
