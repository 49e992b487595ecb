package risk

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/randomness11/probablyprofit/internal/event"
)

// KillSwitch is the process-wide halt gate. Once active, the risk
// manager rejects every decision and the order manager refuses new
// submissions; open orders may still be cancelled and reconciled.
//
// Activation sources: operator action, a drawdown breach, or an external
// sentinel file. Deactivation is always manual so an automatic trip
// forces human review before trading resumes.
type KillSwitch struct {
	mu          sync.Mutex
	active      bool
	reason      string
	activatedAt time.Time

	bus *event.Bus
}

// NewKillSwitch creates an inactive kill switch. bus may be nil.
func NewKillSwitch(bus *event.Bus) *KillSwitch {
	return &KillSwitch{bus: bus}
}

// Activate trips the switch. Re-activating while active keeps the
// original reason.
func (k *KillSwitch) Activate(reason string) {
	k.mu.Lock()
	if k.active {
		k.mu.Unlock()
		return
	}
	k.active = true
	k.reason = reason
	k.activatedAt = time.Now().UTC()
	k.mu.Unlock()

	slog.Error("KILL SWITCH ACTIVATED", slog.String("reason", reason))
	k.publish(true, reason)
}

// Deactivate clears the switch. Manual operator action only.
func (k *KillSwitch) Deactivate() {
	k.mu.Lock()
	if !k.active {
		k.mu.Unlock()
		return
	}
	reason := k.reason
	k.active = false
	k.reason = ""
	k.mu.Unlock()

	slog.Warn("kill switch deactivated", slog.String("previous_reason", reason))
	k.publish(false, reason)
}

// Active reports whether the switch is tripped.
func (k *KillSwitch) Active() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active
}

// Reason returns the activation reason, empty when inactive.
func (k *KillSwitch) Reason() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reason
}

func (k *KillSwitch) publish(active bool, reason string) {
	if k.bus == nil {
		return
	}
	k.bus.Publish(event.KillSwitchEvent{
		BaseEvent: k.bus.Stamp(),
		Active:    active,
		Reason:    reason,
	})
}

// WatchSentinel polls for an external halt marker and trips the switch
// when it appears. Removing the file does not re-arm the system; only
// Deactivate does. Blocks until ctx is done.
func (k *KillSwitch) WatchSentinel(ctx context.Context, path string, interval time.Duration) {
	if path == "" {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil && !k.Active() {
				k.Activate("external halt sentinel present: " + path)
			}
		}
	}
}
