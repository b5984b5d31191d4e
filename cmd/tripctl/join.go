package main

import (
	"context"
	"fmt"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/tripsync/internal/config"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/position"
)

// join stays in the trip until interrupted, printing every change and
// publishing replayed positions when a track is given.
func join(ctx context.Context, cfg *config.Config, opts docopt.Opts) error {
	trip, _ := opts.String("<trip>")

	var positions *position.Source
	if track, _ := opts.String("--track"); track != "" {
		raw, _ := opts.String("--interval")
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid --interval %q: %w", raw, err)
		}
		positions = position.NewSource(
			&position.TrackDevice{Path: track, Interval: interval},
			position.Options{MinInterval: cfg.PositionMinInterval, HighAccuracy: true},
		)
	}

	p, err := connectParticipant(ctx, cfg, trip, opts, positions)
	if err != nil {
		return err
	}
	fmt.Printf("Joined %s. Ctrl-C to leave.\n", trip)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case items := <-p.itinerary:
				fmt.Println("== Plan")
				printItinerary(items)
			case records := <-p.positions:
				fmt.Println("== Positions")
				printPositions(records)
				if fix, ok := p.engine.LastFix(); ok {
					fmt.Printf("Nearby transit: %s\n", models.TransitSearchURL(fix))
				}
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		p.close()
		fmt.Println("Left the trip.")
		return nil
	})
	return g.Wait()
}

func printPositions(records []models.PositionRecord) {
	if len(records) == 0 {
		fmt.Println("Nobody is sharing a position.")
		return
	}
	for _, r := range records {
		seen := "never"
		if r.UpdatedAt > 0 {
			seen = time.UnixMilli(r.UpdatedAt).Format(time.Kitchen)
		}
		fmt.Printf("%-8s  %9.5f, %9.5f  %s  (%s)\n", r.Name, r.Lat, r.Lng, seen, r.ID)
	}
}
