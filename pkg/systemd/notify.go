// Package systemd integrates the daemon with the service manager's
// readiness and watchdog protocol. Every helper is a no-op outside a
// systemd unit (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells the service manager startup is complete. Returns false
// when not running under systemd.
func NotifyReady() bool {
	ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady)
	return ok
}

// NotifyStopping signals shutdown has begun.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// RunWatchdog pings the systemd watchdog at half the configured interval
// until ctx is canceled. It returns immediately when the unit has no
// WatchdogSec.
func RunWatchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}

	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
