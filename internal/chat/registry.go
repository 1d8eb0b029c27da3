package chat

import (
	"sort"
	"sync"
)

// Delivery is one outbound frame queued for a participant. MessageID is
// non-zero for persisted chat messages so a session can discard live
// deliveries already covered by its history snapshot.
type Delivery struct {
	MessageID int64
	Frame     OutboundFrame
}

// Registry is the thread-safe directory of live participants per
// ticket. It is constructed once and owned by the server process; it
// holds the only references to participant delivery channels. The
// registry never performs network I/O and never closes a channel: a
// detached channel simply stops receiving deliveries and its owning
// session remains responsible for its connection.
//
// Locking is per ticket: the registry mutex only guards the room map,
// so traffic on one ticket never serializes another.
type Registry struct {
	mu      sync.RWMutex
	tickets map[int64]*ticketRoom
}

type ticketRoom struct {
	mu      sync.Mutex
	members map[int64]chan Delivery
	// dead marks a room already removed from the map; a registration
	// racing the removal must retry against a fresh room.
	dead bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tickets: make(map[int64]*ticketRoom)}
}

// Register inserts or replaces the delivery channel for the
// (ticketID, userID) pair. It always succeeds. A prior registration for
// the same pair is detached: it receives no further deliveries, and its
// owner keeps responsibility for closing its own connection.
func (r *Registry) Register(ticketID, userID int64, ch chan Delivery) {
	for {
		room := r.room(ticketID)
		room.mu.Lock()
		if room.dead {
			room.mu.Unlock()
			continue
		}
		room.members[userID] = ch
		room.mu.Unlock()
		return
	}
}

// Unregister removes the registration for the pair when the stored
// channel is the one given. The identity check means a replaced
// session's late unregister cannot evict its replacement. Calling this
// for a pair that is not registered is a no-op.
func (r *Registry) Unregister(ticketID, userID int64, ch chan Delivery) {
	r.mu.RLock()
	room, ok := r.tickets[ticketID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	room.mu.Lock()
	if current, exists := room.members[userID]; exists && current == ch {
		delete(room.members, userID)
	}
	empty := len(room.members) == 0
	room.mu.Unlock()

	if empty {
		r.dropRoomIfEmpty(ticketID)
	}
}

// Broadcast queues the delivery for every participant registered on the
// ticket, except excludeUserID when non-zero. The handoff is
// non-blocking: a participant whose queue is full or no longer consumed
// is removed instead of resent, so a stuck consumer can never stall the
// broadcaster or the other participants. Returns the number of
// participants dropped.
func (r *Registry) Broadcast(ticketID int64, delivery Delivery, excludeUserID int64) int {
	r.mu.RLock()
	room, ok := r.tickets[ticketID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	room.mu.Lock()
	var stale []int64
	for userID, ch := range room.members {
		if excludeUserID != 0 && userID == excludeUserID {
			continue
		}
		select {
		case ch <- delivery:
		default:
			stale = append(stale, userID)
		}
	}
	for _, userID := range stale {
		delete(room.members, userID)
	}
	empty := len(room.members) == 0
	room.mu.Unlock()

	if empty {
		r.dropRoomIfEmpty(ticketID)
	}
	return len(stale)
}

// ParticipantsOf returns a sorted snapshot of the user ids currently
// registered on the ticket.
func (r *Registry) ParticipantsOf(ticketID int64) []int64 {
	r.mu.RLock()
	room, ok := r.tickets[ticketID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	room.mu.Lock()
	ids := make([]int64, 0, len(room.members))
	for userID := range room.members {
		ids = append(ids, userID)
	}
	room.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// room returns the ticket's room, creating it when absent.
func (r *Registry) room(ticketID int64) *ticketRoom {
	r.mu.RLock()
	room, ok := r.tickets[ticketID]
	r.mu.RUnlock()
	if ok {
		return room
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok = r.tickets[ticketID]; ok {
		return room
	}
	room = &ticketRoom{members: make(map[int64]chan Delivery)}
	r.tickets[ticketID] = room
	return room
}

// dropRoomIfEmpty deletes the room when it is still empty. Lock order
// is always registry then room.
func (r *Registry) dropRoomIfEmpty(ticketID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.tickets[ticketID]
	if !ok {
		return
	}
	room.mu.Lock()
	if len(room.members) == 0 {
		room.dead = true
		delete(r.tickets, ticketID)
	}
	room.mu.Unlock()
}
