package agent

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cabswale/raahi-agent/internal/clients"
	"github.com/cabswale/raahi-agent/internal/session"
)

// Audio keys emitted by the duty search post-processor.
const (
	AudioIndiaOnly        = "india_only"
	AudioNoDuty           = "no_duty"
	AudioNoPickupDrop     = "duties_no_pickup_drop"
	actionShowEnd         = "show_end"
	dutySearchRadiusKM    = 50
	dutySearchResultLimit = 50
)

// PostProcessor runs after the loop terminates and may rewrite the result,
// typically to execute the real search the model only extracted parameters
// for.
type PostProcessor func(ctx context.Context, sess *session.Session, res *Result)

// findDuties runs the trips and leads searches for the cities the model
// extracted. Cities outside India end the flow with the india_only audio;
// zero results end it with no_duty; a single missing city keeps the results
// but overrides the audio so the app can prompt for the other city.
func (l *Loop) findDuties(ctx context.Context, sess *session.Session, res *Result) {
	if l.trips == nil {
		return
	}
	pickup := cityFromData(res.Action.Data, "pickup_city", "from_city")
	drop := cityFromData(res.Action.Data, "drop_city", "to_city")

	var coords *session.Location
	for _, city := range []string{pickup, drop} {
		if city == "" || l.geocoder == nil {
			continue
		}
		loc, country, err := l.geocoder.Locate(ctx, city)
		if err != nil {
			// Unresolvable city: skip the geo stage, text search still runs.
			l.logger.Warn("geocoding failed", "city", city, "error", err)
			continue
		}
		if country != "" && country != "IN" {
			l.logger.Info("city outside India", "city", city, "country", country)
			res.Action.Type = actionShowEnd
			res.AudioKey = AudioIndiaOnly
			res.Action.Data = map[string]any{
				"query": map[string]any{"pickup_city": pickup, "drop_city": drop},
			}
			return
		}
		if city == pickup {
			coords = &session.Location{Latitude: loc.Latitude, Longitude: loc.Longitude}
		}
	}

	query := clients.SearchQuery{
		PickupCity:  pickup,
		DropCity:    drop,
		Coordinates: coords,
		RadiusKM:    dutySearchRadiusKM,
		Limit:       dutySearchResultLimit,
	}

	var trips, leads []map[string]any
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docs, err := l.trips.SearchTrips(gctx, query)
		if err != nil {
			l.logger.Error("trip search failed", "session", sess.ID, "error", err)
			return nil
		}
		trips = docs
		return nil
	})
	g.Go(func() error {
		docs, err := l.trips.SearchLeads(gctx, query)
		if err != nil {
			l.logger.Error("lead search failed", "session", sess.ID, "error", err)
			return nil
		}
		leads = docs
		return nil
	})
	_ = g.Wait()

	if trips == nil {
		trips = []map[string]any{}
	}
	if leads == nil {
		leads = []map[string]any{}
	}

	if len(trips) == 0 && len(leads) == 0 {
		res.Action.Type = actionShowEnd
		res.AudioKey = AudioNoDuty
		res.Action.Data = map[string]any{
			"query": map[string]any{"pickup_city": pickup, "drop_city": drop},
		}
		return
	}

	res.Action.Data["trips"] = trips
	res.Action.Data["leads"] = leads
	res.Action.Data["query"] = map[string]any{
		"pickup_city": pickup,
		"drop_city":   drop,
		"used_geo":    coords != nil,
	}
	res.Action.Data["counts"] = map[string]any{
		"trips": len(trips),
		"leads": len(leads),
	}

	// Exactly one city missing: results are shown but the audio asks for
	// the other city.
	if (pickup == "") != (drop == "") {
		res.AudioKey = AudioNoPickupDrop
	}
}

func cityFromData(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, _ := data[key].(string); strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
