package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"shuttle-realtime/internal/client"
	"shuttle-realtime/internal/config"
	"shuttle-realtime/internal/logging"
	"shuttle-realtime/internal/realtime"
	"shuttle-realtime/internal/shuttle"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	gatewayURL := flag.String("gateway", cfg.GatewayURL, "gateway WebSocket URL")
	tripID := flag.String("trip", "", "trip to follow")
	userID := flag.String("user", "", "passenger user id")
	live := flag.Bool("live", false, "print the live trip list instead of following one trip")
	feedURL := flag.String("feed", "", "live trip feed URL (default derived from -gateway)")
	flag.Parse()

	log := logging.NewWithWriter(os.Stderr, "shuttle-tripwatch", cfg.LogLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := json.NewEncoder(os.Stdout)

	if *live {
		url := *feedURL
		if url == "" {
			url = feedFromGateway(*gatewayURL)
		}
		feed := client.NewLiveTrips(url, cfg.ReconnectDelay, log)
		feed.OnUpdate = func(trips []shuttle.LiveTrip) {
			for _, t := range trips {
				fmt.Printf("%-12s %-24s %-11s %2d/%-2d seats free  %s\n",
					t.ID, t.RouteName, t.Status, t.AvailableSeats, t.Capacity, t.DepartureTime.Format("15:04"))
			}
			fmt.Println()
		}
		_ = feed.Run(ctx)
		return
	}

	if *tripID == "" {
		fmt.Fprintln(os.Stderr, "-trip is required unless -live is set")
		flag.Usage()
		os.Exit(2)
	}

	conn := client.New(client.Options{
		URL:        *gatewayURL,
		RetryDelay: cfg.ReconnectDelay,
		OnConnect: func(c *client.Conn) error {
			return c.Emit(realtime.EventPassengerSubscribe, realtime.PassengerSubscribe{TripID: *tripID, UserID: *userID})
		},
		OnEvent: func(m client.Message) {
			_ = out.Encode(m)
		},
	}, log)
	_ = conn.Run(ctx)
}

// feedFromGateway turns ws://host/ws into http://host/api/trips/live.
func feedFromGateway(ws string) string {
	u := strings.Replace(ws, "ws://", "http://", 1)
	u = strings.Replace(u, "wss://", "https://", 1)
	u = strings.TrimSuffix(u, "/ws")
	return u + "/api/trips/live"
}
