// README: Runs state machine effects against the store, monitor and history.
package session

import (
	"context"
	"log/slog"

	"tripflow/internal/modules/region"
	"tripflow/internal/modules/trip"
	"tripflow/internal/types"
)

// outcome is the result of one executed event.
type outcome struct {
	trip    trip.Trip
	removed bool
}

type executor struct {
	store   trip.Store
	monitor *region.Monitor // nil for passenger sessions
	history trip.History    // optional
	radius  float64         // overrides the default region radius when > 0
	log     *slog.Logger
}

// apply feeds ev to the state machine for passengerID and performs the
// resulting effects in order. The first failing store effect aborts the
// rest. History failures are logged and do not fail the event.
func (x *executor) apply(ctx context.Context, passengerID types.ID, cur *trip.Trip, ev trip.Event) (outcome, error) {
	next, effects, err := trip.Apply(cur, ev)
	if err != nil {
		return outcome{}, err
	}

	out := outcome{trip: next}
	for _, e := range effects {
		switch e.Kind {
		case trip.EffectCreateRecord:
			created, err := x.store.Create(ctx, passengerID, e.Trip.Pickup, e.Trip.Destination)
			if err != nil {
				return outcome{}, err
			}
			out.trip = created
		case trip.EffectUpdateRecord:
			updated, err := x.store.Update(ctx, passengerID, e.Fields)
			if err != nil {
				return outcome{}, err
			}
			out.trip = updated
		case trip.EffectDeleteRecord:
			if err := x.store.Delete(ctx, passengerID); err != nil {
				return outcome{}, err
			}
		case trip.EffectStartMonitoring:
			if x.monitor != nil {
				r := e.Region
				if x.radius > 0 {
					r.Radius = x.radius
				}
				x.monitor.Start(r)
			}
		case trip.EffectStopMonitoring:
			if x.monitor != nil {
				x.monitor.Stop(e.RegionType)
			}
		case trip.EffectStopAllMonitoring:
			if x.monitor != nil {
				x.monitor.StopAll()
			}
		case trip.EffectRecordHistory:
			if x.history != nil {
				if err := x.history.Append(ctx, e.Transition); err != nil {
					x.log.Warn("trip history append failed", "passenger_id", passengerID, "event", ev.Kind.String(), "error", err)
				}
			}
		case trip.EffectNotifyRemoved:
			out.removed = true
		}
	}

	x.log.Info("trip event applied", "passenger_id", passengerID, "event", ev.Kind.String(), "state", out.trip.State.String(), "removed", out.removed)
	return out, nil
}
