package cycle

import (
	"context"
	"log"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Hook is started before the first cycle and stopped after the last one.
type Hook interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HookFunc wraps start/stop callbacks into a Hook. Nil callbacks are no-ops.
type HookFunc struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func NewHook(name string, start, stop func(ctx context.Context) error) Hook {
	return &HookFunc{name: name, start: start, stop: stop}
}

func (h *HookFunc) Name() string { return h.name }

func (h *HookFunc) Start(ctx context.Context) error {
	if h.start == nil {
		return nil
	}
	return h.start(ctx)
}

func (h *HookFunc) Stop(ctx context.Context) error {
	if h.stop == nil {
		return nil
	}
	return h.stop(ctx)
}

// startHooks starts hooks in order. If one fails, the ones already started are
// stopped in reverse order and the error is returned.
func startHooks(ctx context.Context, hooks []Hook) ([]Hook, error) {
	started := make([]Hook, 0, len(hooks))
	for _, h := range hooks {
		if err := h.Start(ctx); err != nil {
			stopHooks(ctx, started, nil)
			return nil, err
		}
		started = append(started, h)
	}
	return started, nil
}

// stopHooks stops hooks in reverse order and returns the first error.
func stopHooks(ctx context.Context, hooks []Hook, logger *log.Logger) error {
	var firstErr error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].Stop(ctx); err != nil {
			if logger != nil {
				logger.Printf("WARN: hook %s failed to stop: %v", hooks[i].Name(), err)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SystemdNotifier reports READY=1 when the loop starts and STOPPING=1 when it
// ends. Without NOTIFY_SOCKET both are no-ops.
func SystemdNotifier(logger *log.Logger) Hook {
	if logger == nil {
		logger = log.Default()
	}
	notify := func(state string) func(context.Context) error {
		return func(context.Context) error {
			sent, err := daemon.SdNotify(false, state)
			if err != nil {
				logger.Printf("WARN: Failed to notify systemd (%s): %v", state, err)
				return nil
			}
			if sent {
				logger.Printf("INFO: Notified systemd: %s", state)
			}
			return nil
		}
	}
	return NewHook("systemd", notify(daemon.SdNotifyReady), notify(daemon.SdNotifyStopping))
}
