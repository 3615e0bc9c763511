package realtime

import (
	"log/slog"
	"sync"
	"time"

	"shuttle-realtime/internal/shuttle"
)

// Mirror receives a copy of every outbound trip event after fan-out.
type Mirror interface {
	PublishEvent(tripID string, ev Event) error
}

type Metrics interface {
	Broadcast(event string, delivered, dropped int)
	Notified(status shuttle.Status)
	Registry(st RegistryStats)
}

// Router accepts inbound driver, passenger and admin events and fans them out
// to the right rooms. All handlers run under one lock, so events of a trip are
// delivered to every subscriber in the order they were processed.
type Router struct {
	mu      sync.Mutex
	reg     *Registry
	log     *slog.Logger
	mirror  Mirror
	metrics Metrics
	now     func() time.Time
}

// NewRouter builds a router with an empty registry. mirror and metrics may be nil.
func NewRouter(log *slog.Logger, mirror Mirror, metrics Metrics) *Router {
	return &Router{
		reg:     NewRegistry(),
		log:     log,
		mirror:  mirror,
		metrics: metrics,
		now:     time.Now,
	}
}

func (r *Router) OnDriverConnect(driverID, tripID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reg.RegisterDriver(driverID, tripID, c)
	r.registryChanged()
	r.log.Info("driver connected", "driver_id", driverID, "trip_id", tripID, "conn_id", c.ID())

	r.broadcastTrip(tripID, Event{Name: EventDriverOnline, Data: DriverOnline{
		DriverID:  driverID,
		TripID:    tripID,
		Timestamp: r.now(),
	}})
}

func (r *Router) OnLocationUpdate(loc shuttle.DriverLocation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.broadcastTrip(loc.TripID, Event{Name: EventLocationUpdate, Data: loc})

	if eta, ok := EstimateETA(loc); ok {
		r.broadcastTrip(loc.TripID, Event{Name: EventETAUpdate, Data: ETAUpdate{
			TripID:    loc.TripID,
			ETA:       eta,
			Timestamp: r.now(),
		}})
	}
}

// OnTripStatusUpdate relays a driver-asserted status. Transitions are not
// checked against the trip lifecycle.
func (r *Router) OnTripStatusUpdate(u shuttle.TripUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.broadcastTrip(u.TripID, Event{Name: EventTripStatusUpdate, Data: u})
	r.log.Debug("trip status relayed", "trip_id", u.TripID, "status", u.Status)

	switch u.Status {
	case shuttle.StatusBoarding, shuttle.StatusInTransit, shuttle.StatusArriving:
		r.dispatchNotification(u)
	}
}

func (r *Router) OnPassengerSubscribe(tripID, userID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reg.Subscribe(tripID, userID, c)
	r.registryChanged()
	r.log.Debug("passenger subscribed", "trip_id", tripID, "user_id", userID, "conn_id", c.ID())

	ev := Event{Name: EventTripCurrentStatus, Data: CurrentStatus{
		TripID:     tripID,
		Subscribed: true,
		Timestamp:  r.now(),
	}}
	delivered := 0
	if c.Send(ev) {
		delivered = 1
	}
	if r.metrics != nil {
		r.metrics.Broadcast(ev.Name, delivered, 1-delivered)
	}
}

func (r *Router) OnPassengerUnsubscribe(tripID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reg.Unsubscribe(tripID, c)
	r.registryChanged()
	r.log.Debug("passenger unsubscribed", "trip_id", tripID, "conn_id", c.ID())
}

// OnAdminMonitorAll joins c to the admin room. Admins only receive what the
// API layer pushes there through PushAdmin.
func (r *Router) OnAdminMonitorAll(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reg.JoinAdmin(c)
	r.registryChanged()
	r.log.Info("admin monitoring all trips", "conn_id", c.ID())
}

func (r *Router) OnDisconnect(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reg.Remove(c)
	r.registryChanged()
	r.log.Debug("connection removed", "conn_id", c.ID())
}

// BroadcastTrip fans an arbitrary event out to a trip room and returns the
// number of connections it was handed to.
func (r *Router) BroadcastTrip(tripID, name string, data any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastTrip(tripID, Event{Name: name, Data: data})
}

func (r *Router) PushAdmin(name string, data any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcast(adminRoom, Event{Name: name, Data: data})
}

func (r *Router) PushUser(userID, name string, data any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcast(userRoom(userID), Event{Name: name, Data: data})
}

func (r *Router) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.Stats()
}

// IsSubscribed reports whether connection connID currently watches tripID.
func (r *Router) IsSubscribed(tripID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.IsSubscribed(tripID, connID)
}

// DriverConn returns the connection currently registered for driverID.
func (r *Router) DriverConn(driverID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.Driver(driverID)
}

func (r *Router) dispatchNotification(u shuttle.TripUpdate) {
	title, message, ok := NotificationFor(u.Status)
	if !ok {
		return
	}
	r.broadcastTrip(u.TripID, Event{Name: EventNotification, Data: Notification{
		TripID:    u.TripID,
		Type:      u.Status,
		Title:     title,
		Message:   message,
		Timestamp: r.now(),
	}})
	if r.metrics != nil {
		r.metrics.Notified(u.Status)
	}
}

func (r *Router) broadcastTrip(tripID string, ev Event) int {
	n := r.broadcast(tripRoom(tripID), ev)
	if r.mirror != nil {
		if err := r.mirror.PublishEvent(tripID, ev); err != nil {
			r.log.Warn("mirror publish failed", "trip_id", tripID, "event", ev.Name, "error", err)
		}
	}
	return n
}

// broadcast hands ev to every member of room without blocking. Absent rooms
// and full connections are silently skipped.
func (r *Router) broadcast(room string, ev Event) int {
	delivered, dropped := 0, 0
	for _, c := range r.reg.Members(room) {
		if c.Send(ev) {
			delivered++
		} else {
			dropped++
		}
	}
	if r.metrics != nil {
		r.metrics.Broadcast(ev.Name, delivered, dropped)
	}
	return delivered
}

func (r *Router) registryChanged() {
	if r.metrics != nil {
		r.metrics.Registry(r.reg.Stats())
	}
}
