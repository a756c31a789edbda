package replica

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// OwnerFunc returns the set of replica paths held by live sessions.
type OwnerFunc func() map[string]bool

// SweeperOpts configures a Sweeper.
type SweeperOpts struct {
	Dir      *Dir
	MaxAge   time.Duration
	Schedule string // 5-field cron expression
	Owned    OwnerFunc
	Logger   *zap.Logger
}

// Sweeper deletes replica files left behind by a crash or a lost session.
type Sweeper struct {
	dir    *Dir
	maxAge time.Duration
	sched  cron.Schedule
	owned  OwnerFunc
	log    *zap.Logger
	now    func() time.Time
}

// NewSweeper validates opts and parses the schedule.
func NewSweeper(opts SweeperOpts) (*Sweeper, error) {
	if opts.Dir == nil {
		return nil, fmt.Errorf("replica: dir is required")
	}
	if opts.MaxAge <= 0 {
		return nil, fmt.Errorf("replica: max age must be positive")
	}
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("replica: schedule %q: %w", opts.Schedule, err)
	}
	owned := opts.Owned
	if owned == nil {
		owned = func() map[string]bool { return nil }
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		dir:    opts.Dir,
		maxAge: opts.MaxAge,
		sched:  sched,
		owned:  owned,
		log:    log,
		now:    time.Now,
	}, nil
}

// Sweep removes every regular file in the directory older than the max age
// that no live session owns. It returns the number of files removed.
func (s *Sweeper) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir.Root())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("replica: sweep %s: %w", s.dir.Root(), err)
	}

	owned := s.owned()
	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.dir.Root(), e.Name())
		if owned[path] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("sweep remove failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// Run sweeps on the cron schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		wait := time.Until(s.sched.Next(s.now()))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		n, err := s.Sweep()
		if err != nil {
			s.log.Error("replica sweep failed", zap.Error(err))
			continue
		}
		if n > 0 {
			s.log.Info("replica sweep", zap.Int("removed", n))
		}
	}
}
