package main

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/breeze-rmm/deskdupl/internal/config"
	"github.com/breeze-rmm/deskdupl/internal/logging"
	"github.com/breeze-rmm/deskdupl/internal/monitor"
)

const reinitPollInterval = 500 * time.Millisecond

// supervisor reports capture status periodically and, when enabled,
// reinitializes monitors that lost their duplication session.
type supervisor struct {
	mgr            *monitor.Manager
	statusInterval time.Duration
	reinitialize   bool
	reinitDelay    time.Duration
	proc           *process.Process
}

func newSupervisor(cfg *config.Config, mgr *monitor.Manager) *supervisor {
	s := &supervisor{
		mgr:            mgr,
		statusInterval: time.Duration(cfg.StatusIntervalSeconds) * time.Second,
		reinitialize:   cfg.ReinitializeOnAccessLost,
		reinitDelay:    time.Duration(cfg.ReinitializeDelayMs) * time.Millisecond,
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debug("process stats unavailable", logging.KeyError, err)
	} else {
		s.proc = proc
	}
	return s
}

func (s *supervisor) run(ctx context.Context) {
	status := time.NewTicker(s.statusInterval)
	defer status.Stop()
	poll := time.NewTicker(reinitPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-status.C:
			s.reportStatus()
		case <-poll.C:
			if s.reinitialize && s.mgr.NeedsReinitialize() {
				s.reinit(ctx)
			}
		}
	}
}

func (s *supervisor) reinit(ctx context.Context) {
	s.mgr.RefreshHealth()
	log.Warn("duplication session lost, reinitializing", "delayMs", s.reinitDelay.Milliseconds())

	t := time.NewTimer(s.reinitDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}

	if err := s.mgr.Reinitialize(); err != nil {
		log.Error("reinitialize failed", logging.KeyError, err)
		return
	}
	s.mgr.StartAll()
}

func (s *supervisor) reportStatus() {
	s.mgr.RefreshHealth()

	for _, m := range s.mgr.Monitors() {
		st := m.Duplicator().Stats().Snapshot()
		log.Info("monitor status",
			logging.KeyMonitor, m.ID(),
			logging.KeyState, m.State(),
			"frames", st.FramesPublished,
			"fps", st.FPS,
			"timeouts", st.WaitTimeouts,
			"transientErrors", st.TransientErrors,
			"abortedCycles", st.AbortedCycles,
			"duplicateMs", st.DuplicateMs,
			"sleepMs", st.SleepMs)
	}

	attrs := []any{
		"health", s.mgr.Health().Summary(),
		"cursorOwner", s.mgr.CursorOwner(),
	}
	if s.proc != nil {
		if cpu, err := s.proc.CPUPercent(); err == nil {
			attrs = append(attrs, "cpuPercent", cpu)
		}
		if mem, err := s.proc.MemoryInfo(); err == nil {
			attrs = append(attrs, "rssBytes", mem.RSS)
		}
	}
	log.Info("capture status", attrs...)
}
