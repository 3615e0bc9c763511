package sim

import (
	"context"
	"log/slog"
	"time"

	"shuttle-realtime/internal/client"
	"shuttle-realtime/internal/realtime"
	"shuttle-realtime/internal/shuttle"
)

// Driver is one simulated driver's link to the gateway.
type Driver interface {
	Run(ctx context.Context) error
	Emit(name string, data any) error
}

type DriverFactory func(t shuttle.ActiveTrip) Driver

// GatewayDrivers connects every simulated driver to the WebSocket gateway at
// url. Each connection announces its driver on every (re)connect.
func GatewayDrivers(url string, retryDelay time.Duration, log *slog.Logger) DriverFactory {
	return func(t shuttle.ActiveTrip) Driver {
		hello := realtime.DriverConnect{DriverID: driverIDFor(t), TripID: t.TripID}
		return client.New(client.Options{
			URL:        url,
			RetryDelay: retryDelay,
			OnConnect: func(c *client.Conn) error {
				return c.Emit(realtime.EventDriverConnect, hello)
			},
		}, log.With("trip_id", t.TripID, "driver_id", hello.DriverID))
	}
}

func driverIDFor(t shuttle.ActiveTrip) string {
	if t.DriverID != "" {
		return t.DriverID
	}
	return "sim-" + t.TripID
}
