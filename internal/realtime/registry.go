package realtime

// Conn is one live client session as seen by the router.
// Send must not block; it reports false when the event was dropped.
type Conn interface {
	ID() string
	Send(Event) bool
}

const adminRoom = "admin"

func tripRoom(tripID string) string     { return "trip:" + tripID }
func driverRoom(driverID string) string { return "driver:" + driverID }
func userRoom(userID string) string     { return "user:" + userID }

// Registry tracks driver sessions, trip subscriptions and broadcast rooms.
// It is not safe for concurrent use; Router serialises all access.
type Registry struct {
	drivers     map[string]Conn            // driverID -> conn
	subscribers map[string]map[string]Conn // tripID -> connID -> conn
	rooms       map[string]map[string]Conn // room -> connID -> conn
}

type RegistryStats struct {
	DriverSessions int `json:"driverSessions"`
	WatchedTrips   int `json:"watchedTrips"`
	Subscriptions  int `json:"subscriptions"`
	Rooms          int `json:"rooms"`
}

func NewRegistry() *Registry {
	return &Registry{
		drivers:     make(map[string]Conn),
		subscribers: make(map[string]map[string]Conn),
		rooms:       make(map[string]map[string]Conn),
	}
}

// RegisterDriver maps driverID to c, replacing any previous connection for
// that driver, and joins c to the trip and driver rooms.
func (r *Registry) RegisterDriver(driverID, tripID string, c Conn) {
	for id, existing := range r.drivers {
		if id != driverID && existing.ID() == c.ID() {
			delete(r.drivers, id)
			r.leave(driverRoom(id), c)
		}
	}
	r.drivers[driverID] = c
	r.join(tripRoom(tripID), c)
	r.join(driverRoom(driverID), c)
}

func (r *Registry) Subscribe(tripID, userID string, c Conn) {
	r.join(tripRoom(tripID), c)
	set, ok := r.subscribers[tripID]
	if !ok {
		set = make(map[string]Conn)
		r.subscribers[tripID] = set
	}
	set[c.ID()] = c
	if userID != "" {
		r.join(userRoom(userID), c)
	}
}

func (r *Registry) Unsubscribe(tripID string, c Conn) {
	r.leave(tripRoom(tripID), c)
	if set, ok := r.subscribers[tripID]; ok {
		delete(set, c.ID())
		if len(set) == 0 {
			delete(r.subscribers, tripID)
		}
	}
}

func (r *Registry) JoinAdmin(c Conn) {
	r.join(adminRoom, c)
}

// Remove drops c from every driver mapping, subscriber set and room.
func (r *Registry) Remove(c Conn) {
	id := c.ID()
	for driverID, existing := range r.drivers {
		if existing.ID() == id {
			delete(r.drivers, driverID)
		}
	}
	for tripID, set := range r.subscribers {
		delete(set, id)
		if len(set) == 0 {
			delete(r.subscribers, tripID)
		}
	}
	for room, members := range r.rooms {
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

func (r *Registry) Driver(driverID string) (Conn, bool) {
	c, ok := r.drivers[driverID]
	return c, ok
}

func (r *Registry) IsSubscribed(tripID, connID string) bool {
	_, ok := r.subscribers[tripID][connID]
	return ok
}

func (r *Registry) Subscribers(tripID string) []Conn {
	return snapshot(r.subscribers[tripID])
}

// Members returns a snapshot of the connections currently in room.
func (r *Registry) Members(room string) []Conn {
	return snapshot(r.rooms[room])
}

func (r *Registry) Stats() RegistryStats {
	st := RegistryStats{
		DriverSessions: len(r.drivers),
		WatchedTrips:   len(r.subscribers),
		Rooms:          len(r.rooms),
	}
	for _, set := range r.subscribers {
		st.Subscriptions += len(set)
	}
	return st
}

func (r *Registry) join(room string, c Conn) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		r.rooms[room] = members
	}
	members[c.ID()] = c
}

func (r *Registry) leave(room string, c Conn) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, c.ID())
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

func snapshot(set map[string]Conn) []Conn {
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}
