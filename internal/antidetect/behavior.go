package antidetect

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Behavior drives human-like interaction on a rendered page according to
// a profile: cursor wander, incremental scrolling with reading pauses,
// and stealth-grade dwell time. All waits are context-aware.
type Behavior struct {
	profile Profile
	logger  *slog.Logger
}

func NewBehavior(profile Profile, logger *slog.Logger) *Behavior {
	return &Behavior{
		profile: profile,
		logger:  logger.With("component", "behavior"),
	}
}

// Simulate runs the profile's enabled interactions on the page. Failures
// are logged and swallowed: simulation must never fail a scrape.
func (b *Behavior) Simulate(ctx context.Context, page *rod.Page) {
	if b.profile.SimulateMouse {
		if err := b.wanderMouse(ctx, page); err != nil {
			b.logger.Debug("mouse simulation failed", "error", err)
		}
	}
	if b.profile.SimulateScroll {
		if err := b.scrollThrough(ctx, page); err != nil {
			b.logger.Debug("scroll simulation failed", "error", err)
		}
	}
	if b.profile.DwellMax > 0 {
		b.dwell(ctx)
	}
}

// wanderMouse moves the cursor through a few random waypoints with small
// step counts so the trajectory is curved rather than teleported.
func (b *Behavior) wanderMouse(ctx context.Context, page *rod.Page) error {
	moves := 2 + rand.Intn(3)
	for i := 0; i < moves; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		x := float64(100 + rand.Intn(1000))
		y := float64(100 + rand.Intn(600))
		if err := page.Mouse.MoveLinear(proto.Point{X: x, Y: y}, 15+rand.Intn(20)); err != nil {
			return err
		}
		sleepCtx(ctx, randomBetween(100*time.Millisecond, 400*time.Millisecond))
	}
	return nil
}

// scrollThrough scrolls the viewport down in uneven increments, pausing
// between steps when the profile asks for reading pauses.
func (b *Behavior) scrollThrough(ctx context.Context, page *rod.Page) error {
	steps := 3 + rand.Intn(4)
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		delta := float64(200 + rand.Intn(500))
		if err := page.Mouse.Scroll(0, delta, 4+rand.Intn(6)); err != nil {
			return err
		}
		if b.profile.ReadingPauses {
			sleepCtx(ctx, randomBetween(500*time.Millisecond, 2*time.Second))
		} else {
			sleepCtx(ctx, randomBetween(100*time.Millisecond, 300*time.Millisecond))
		}
	}
	return nil
}

// dwell holds on the page for a random duration inside the profile's
// dwell bounds.
func (b *Behavior) dwell(ctx context.Context) {
	d := randomBetween(b.profile.DwellMin, b.profile.DwellMax)
	b.logger.Debug("dwelling on page", "duration", d)
	sleepCtx(ctx, d)
}

// Delay returns the profile's inter-request delay with ±25% jitter.
func (b *Behavior) Delay() time.Duration {
	base := b.profile.RequestDelay
	jitter := float64(base) * 0.25
	return base + time.Duration(rand.Float64()*2*jitter-jitter)
}

func randomBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// sleepCtx sleeps for d or until the context ends.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
