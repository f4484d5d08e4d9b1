package replay

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/basinlabs/catchscan/internal/fusion"
)

// maxEventRate caps emission when replaying faster than real time so a dense
// accelerometer log cannot spin the consumer flat out.
const maxEventRate = 5000

// Player emits a recorded event stream over the fusion source channels,
// pacing inter-event gaps by the original timestamps scaled by Speed.
type Player struct {
	events []Event
	speed  float64

	gpsCh  chan fusion.GPSFix
	imuCh  chan fusion.InertialReading
	baroCh chan fusion.BarometerReading

	hasGPS  bool
	hasIMU  bool
	hasBaro bool
}

// NewPlayer prepares a player. Speed 1 is real time, 2 is double speed, and 0
// replays as fast as the event rate cap allows. The log must contain at least
// one GPS fix or the loop would have nothing to track.
func NewPlayer(events []Event, speed float64) (*Player, error) {
	if speed < 0 {
		return nil, eris.Errorf("replay: negative speed %f", speed)
	}

	p := &Player{
		events: events,
		speed:  speed,
		gpsCh:  make(chan fusion.GPSFix, 16),
		imuCh:  make(chan fusion.InertialReading, 64),
		baroCh: make(chan fusion.BarometerReading, 16),
	}
	for _, ev := range events {
		switch ev.Kind {
		case KindGPS:
			p.hasGPS = true
		case KindInertial:
			p.hasIMU = true
		case KindBarometer:
			p.hasBaro = true
		}
	}
	if !p.hasGPS {
		return nil, eris.New("replay: log contains no gps fixes")
	}
	return p, nil
}

// GPS returns the player's GPS stream.
func (p *Player) GPS() fusion.GPSSource { return gpsTrack{p} }

// Inertial returns the player's accelerometer stream, or nil when the log
// has no imu rows so the loop runs GPS-only.
func (p *Player) Inertial() fusion.InertialSource {
	if !p.hasIMU {
		return nil
	}
	return imuTrack{p}
}

// Barometer returns the player's barometer stream, or nil when absent.
func (p *Player) Barometer() fusion.BarometerSource {
	if !p.hasBaro {
		return nil
	}
	return baroTrack{p}
}

type gpsTrack struct{ p *Player }

func (t gpsTrack) Fixes() <-chan fusion.GPSFix { return t.p.gpsCh }
func (t gpsTrack) Available() bool             { return t.p.hasGPS }

type imuTrack struct{ p *Player }

func (t imuTrack) Readings() <-chan fusion.InertialReading { return t.p.imuCh }
func (t imuTrack) Available() bool                         { return t.p.hasIMU }

type baroTrack struct{ p *Player }

func (t baroTrack) Altitudes() <-chan fusion.BarometerReading { return t.p.baroCh }
func (t baroTrack) Available() bool                           { return t.p.hasBaro }

// Play emits every event in order, then closes the channels so the consumer
// sees end-of-stream. Blocks until done or ctx is cancelled.
func (p *Player) Play(ctx context.Context) error {
	defer close(p.gpsCh)
	defer close(p.imuCh)
	defer close(p.baroCh)

	limiter := rate.NewLimiter(rate.Limit(maxEventRate), 1)
	var prev time.Time

	for i, ev := range p.events {
		if i > 0 && p.speed > 0 {
			gap := ev.Time.Sub(prev)
			if gap > 0 {
				scaled := time.Duration(float64(gap) / p.speed)
				timer := time.NewTimer(scaled)
				select {
				case <-ctx.Done():
					timer.Stop()
					return eris.Wrap(ctx.Err(), "replay: play")
				case <-timer.C:
				}
			}
		}
		prev = ev.Time

		if err := limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "replay: play")
		}

		if err := p.emit(ctx, ev); err != nil {
			return err
		}
	}

	zap.L().Info("replay: log exhausted",
		zap.Int("events", len(p.events)),
		zap.Float64("speed", p.speed),
	)
	return nil
}

func (p *Player) emit(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindGPS:
		select {
		case p.gpsCh <- *ev.GPS:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "replay: emit gps")
		}
	case KindInertial:
		select {
		case p.imuCh <- *ev.Inertial:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "replay: emit imu")
		}
	case KindBarometer:
		select {
		case p.baroCh <- *ev.Barometer:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "replay: emit baro")
		}
	default:
		return eris.Errorf("replay: unknown event kind %q", ev.Kind)
	}
	return nil
}
