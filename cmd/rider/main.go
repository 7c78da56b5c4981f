// Command rider is a terminal demo of the dispatch client: it connects,
// requests a ride, prints offers as they arrive, picks a driver and
// follows the ride to completion.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/transport"
	"github.com/example/ride-dispatch/internal/wire"
)

func main() {
	var (
		pickupFlag  = flag.String("pickup", "37.78825,-122.4324", "pickup as lat,lon")
		destFlag    = flag.String("dest", "37.77825,-122.4224", "destination as lat,lon")
		pickupAddr  = flag.String("pickup-addr", "Market St", "pickup address")
		destAddr    = flag.String("dest-addr", "Mission St", "destination address")
		driverFlag  = flag.String("driver", "", "driver id to select; empty selects the first offer")
		selectAfter = flag.Duration("select-after", 2*time.Second, "how long to collect offers before selecting")
		rating      = flag.Float64("rate", 5, "rating to leave after the ride; 0 skips")
	)
	flag.Parse()

	cfg, err := config.LoadRiderConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.UserID == "" {
		cfg.UserID = "rider-demo"
	}
	logger := logging.NewLogger(cfg.LogLevel)

	pickup, err := parsePlace(*pickupFlag, *pickupAddr)
	if err != nil {
		log.Fatalf("pickup: %v", err)
	}
	dest, err := parsePlace(*destFlag, *destAddr)
	if err != nil {
		log.Fatalf("dest: %v", err)
	}

	conn := transport.New(cfg.DispatchURL,
		transport.WithLogger(logging.Component(logger, "transport")),
		transport.WithDialTimeout(cfg.DialTimeout),
		transport.WithWriteTimeout(cfg.WriteTimeout),
	)
	client := session.NewClient(conn, cfg.UserID,
		session.ClientWithTimeout(cfg.OfferTimeout),
		session.ClientWithLogger(logging.Component(logger, "session")),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Close()

	outcome := make(chan session.Outcome, 1)
	completed := make(chan struct{}, 1)
	var sess *session.Session

	cb := session.Callbacks{
		OnStateChange: func(from, to session.State) {
			fmt.Printf("-- %s -> %s\n", from, to)
		},
		OnOffersUpdated: func(list []models.DriverOffer) {
			for _, o := range list {
				away := geo.DistanceMiles(*pickup.Coordinates, o.Location)
				fmt.Printf("   offer %s: %s (%.1f*) %s %s, %d min, %.1f mi away, $%.2f\n",
					o.DriverID, o.Name, o.Rating, o.Vehicle, o.Plate, o.ETAMinutes, away, o.Price)
			}
		},
		OnNearbyDrivers: func(drivers []wire.DriverInfo) {
			fmt.Printf("   %d drivers nearby\n", len(drivers))
		},
		OnDriverLocation: func(driverID string, loc models.Coordinate) {
			fmt.Printf("   %s at %.5f,%.5f\n", driverID, loc.Latitude, loc.Longitude)
		},
		OnRideStarted:   func() { fmt.Println("-- ride started") },
		OnRideCompleted: func() { fmt.Println("-- ride completed"); completed <- struct{}{} },
		OnRideCancelled: func(by string) { fmt.Printf("-- ride cancelled by %s\n", by); completed <- struct{}{} },
		OnOutcome:       func(o session.Outcome) { outcome <- o },
	}

	sess, err = client.NewSession(pickup, dest, cb)
	if err != nil {
		log.Fatalf("session: %v", err)
	}
	fmt.Printf("requesting ride %s\n", sess.ID())
	if err := sess.Begin(); err != nil {
		log.Fatalf("begin: %v", err)
	}

	// let offers accumulate, then commit to one
	selectTimer := time.AfterFunc(*selectAfter, func() {
		list := sess.Offers()
		if len(list) == 0 {
			return // still searching; the timeout outcome will tell us
		}
		pick := list[0].DriverID
		if *driverFlag != "" {
			pick = *driverFlag
		}
		fmt.Printf("selecting driver %s\n", pick)
		if err := sess.SelectOffer(pick); err != nil {
			fmt.Fprintf(os.Stderr, "select: %v\n", err)
		}
	})
	defer selectTimer.Stop()

	select {
	case <-ctx.Done():
		sess.Cancel()
		return
	case o := <-outcome:
		switch o.State {
		case session.StateConfirmed:
			fmt.Printf("confirmed: %s (%s %s)\n", o.Offer.Name, o.Offer.Vehicle, o.Offer.Plate)
		case session.StateTimedOut:
			fmt.Println("no drivers available, try again later")
			return
		default:
			fmt.Printf("ride not confirmed: %s", o.State)
			if o.Err != nil {
				fmt.Printf(" (%v)", o.Err)
			}
			fmt.Println()
			return
		}
	}

	select {
	case <-ctx.Done():
		return
	case <-completed:
	}
	if *rating > 0 {
		if err := sess.RateDriver(*rating, "demo ride"); err == nil {
			fmt.Printf("rated driver %.1f\n", *rating)
		}
	}
}

func parsePlace(coords, address string) (models.Place, error) {
	parts := strings.Split(coords, ",")
	if len(parts) != 2 {
		return models.Place{}, fmt.Errorf("want lat,lon, got %q", coords)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return models.Place{}, err
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return models.Place{}, err
	}
	return models.Place{
		Coordinates: &models.Coordinate{Latitude: lat, Longitude: lon},
		Address:     address,
	}, nil
}
