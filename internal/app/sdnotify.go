package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "jobvisor/pkg/logx"
)

// sdNotify reports state to systemd when running under a Type=notify unit.
// Outside systemd NOTIFY_SOCKET is unset and this is a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func notifyReady(log logx.Logger)     { sdNotify(log, daemon.SdNotifyReady) }
func notifyReloading(log logx.Logger) { sdNotify(log, daemon.SdNotifyReloading) }
func notifyStopping(log logx.Logger)  { sdNotify(log, daemon.SdNotifyStopping) }
