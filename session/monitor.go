package session

import (
	"context"
	"fmt"
	"time"

	"github.com/CK6170/Msectrax-go/models"
)

const (
	DefaultMonitorInterval = time.Second
	DefaultEchoInterval    = 10 * time.Millisecond
)

// StateUpdate is one poll of a running controller.
type StateUpdate struct {
	SessionID string
	HeadStage string
	Time      time.Time
	Elapsed   time.Duration
	State     models.DeviceState
	// CycleRate is controller cycles per second since configuration,
	// ClRate the closed-loop iterations per second and LoopTime its inverse.
	CycleRate float64
	ClRate    float64
	LoopTime  time.Duration
	// ActualCycles is the raw QueryActualCycles answer when requested.
	ActualCycles *models.Response
}

// Rates derives loop rates from a cycle count. A zero elapsed time or count
// yields zero rates rather than infinities.
func Rates(cycles, clPeriod uint32, elapsed time.Duration) (cycleRate, clRate float64, loopTime time.Duration) {
	if elapsed <= 0 || cycles == 0 {
		return 0, 0, 0
	}
	if clPeriod == 0 {
		clPeriod = 1
	}
	cycleRate = float64(cycles) / elapsed.Seconds()
	clRate = cycleRate / float64(clPeriod)
	loopTime = time.Duration(float64(time.Second) / clRate)
	return cycleRate, clRate, loopTime
}

// Configure sends the head stage's SetState once. Rates reported by Monitor
// are measured from here.
func (s *Session) Configure(ctx context.Context) (*models.Response, error) {
	resp, err := s.Device.SetState(ctx, s.HeadStage.State)
	if err != nil {
		return nil, fmt.Errorf("configure %s: %w", s.HeadStage.Name, err)
	}
	s.configured = time.Now()
	return resp, nil
}

type MonitorOptions struct {
	Interval     time.Duration
	ActualCycles bool
}

// Monitor polls QueryState until ctx is done. Any request error ends it.
func (s *Session) Monitor(ctx context.Context, opts MonitorOptions, onUpdate func(StateUpdate)) error {
	if opts.Interval <= 0 {
		opts.Interval = DefaultMonitorInterval
	}
	since := s.configured
	if since.IsZero() {
		since = s.Started
	}
	for {
		st, err := s.Device.QueryState(ctx)
		if err != nil {
			return ctxErr(ctx, err)
		}
		now := time.Now()
		u := StateUpdate{
			SessionID: s.ID,
			HeadStage: s.HeadStage.Name,
			Time:      now,
			Elapsed:   now.Sub(since),
			State:     *st,
		}
		u.CycleRate, u.ClRate, u.LoopTime = Rates(st.ClCycles, st.Inner.ClPeriod, u.Elapsed)
		if opts.ActualCycles {
			if u.ActualCycles, err = s.Device.QueryActualCycles(ctx); err != nil {
				return ctxErr(ctx, err)
			}
		}
		if onUpdate != nil {
			onUpdate(u)
		}
		if err := sleep(ctx, opts.Interval); err != nil {
			return err
		}
	}
}

// LogState appends every polled state to the session log until ctx is done.
// A zero interval polls back to back.
func (s *Session) LogState(ctx context.Context, interval time.Duration, onRow func(models.Sample)) error {
	if s.log == nil {
		return fmt.Errorf("session %s: no log open", s.ID)
	}
	for {
		st, err := s.Device.QueryState(ctx)
		if err != nil {
			return ctxErr(ctx, err)
		}
		sample, err := s.Record(st)
		if err != nil {
			return err
		}
		if onRow != nil {
			onRow(sample)
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// sleep waits d or until ctx is done. d <= 0 only checks ctx.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ctxErr reports cancellation instead of the transport error it caused.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
