package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"tempo/internal/app"
	"tempo/internal/session"
	"tempo/internal/task/scheduler"
	logx "tempo/pkg/logx"
)

var (
	runWatch       bool
	runStopTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler until shut_cond holds or a signal arrives",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "reload the project file when it changes")
	runCmd.Flags().DurationVar(&runStopTimeout, "stop-timeout", 5*time.Second, "upper bound for releasing resources after the scheduler stops")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	log := a.Logger()
	a.OnReady(func() { notify(log, daemon.SdNotifyReady) })

	runErr := a.Run(ctx, runWatch)
	notify(log, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), runStopTimeout)
	defer stopCancel()
	_ = a.Stop(stopCtx, app.ReasonFor(runErr, ctx.Err() != nil))

	var re *scheduler.RestartError
	if errors.As(runErr, &re) {
		switch re.Mode {
		case session.RestartRelaunch:
			return relaunch()
		default:
			return reexec()
		}
	}
	return runErr
}

// notify reports state to systemd; it is a no-op outside a Type=notify unit.
func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Any("err", err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
