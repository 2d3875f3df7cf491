package server

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"unicode"
)

// BotRoomID is the reserved wire id of the site assistant's room.
const BotRoomID = "chatbot"

var (
	// ErrEmptyRoom is returned by ParseRoomID for a blank room id.
	ErrEmptyRoom = errors.New("server: empty room id")
	// ErrInvalidRoom is returned by ParseRoomID for ids holding control characters.
	ErrInvalidRoom = errors.New("server: invalid room id")
)

// RoomKind distinguishes ordinary conversations from the bot room.
type RoomKind int

// Room kinds.
const (
	RoomUser RoomKind = iota
	RoomBot
)

// RoomID identifies a room. The zero value is not a valid room.
type RoomID struct {
	kind RoomKind
	id   string
}

// BotRoom is the site assistant's room.
var BotRoom = RoomID{kind: RoomBot, id: BotRoomID}

// UserRoom returns the id of an ordinary conversation.
func UserRoom(id string) RoomID {
	return RoomID{kind: RoomUser, id: id}
}

// ParseRoomID maps a wire room id to a RoomID.
func ParseRoomID(s string) (RoomID, error) {
	s = strings.TrimSpace(s)
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return RoomID{}, ErrInvalidRoom
	}
	switch s {
	case "":
		return RoomID{}, ErrEmptyRoom
	case BotRoomID:
		return BotRoom, nil
	default:
		return UserRoom(s), nil
	}
}

// Kind reports whether r is a user room or the bot room.
func (r RoomID) Kind() RoomKind { return r.kind }

// String returns the wire id.
func (r RoomID) String() string { return r.id }

// Rooms tracks connection-scoped room membership in both directions so a
// departing client can be removed from every room it joined.
type Rooms struct {
	mu      sync.RWMutex
	members map[RoomID]map[*Client]struct{}
	joined  map[*Client]map[RoomID]struct{}
}

// NewRooms returns an empty membership table.
func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[RoomID]map[*Client]struct{}),
		joined:  make(map[*Client]map[RoomID]struct{}),
	}
}

// Join adds c to room. Joining twice is a no-op. It returns false when c is
// already closed, in which case nothing is recorded.
func (r *Rooms) Join(c *Client, room RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.isClosed() {
		return false
	}

	set, ok := r.members[room]
	if !ok {
		set = make(map[*Client]struct{})
		r.members[room] = set
	}
	set[c] = struct{}{}

	rooms, ok := r.joined[c]
	if !ok {
		rooms = make(map[RoomID]struct{})
		r.joined[c] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// RemoveAll drops c from every room and returns the rooms it had joined.
func (r *Rooms) RemoveAll(c *Client) []RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.joined[c]
	delete(r.joined, c)

	left := make([]RoomID, 0, len(rooms))
	for room := range rooms {
		set := r.members[room]
		delete(set, c)
		if len(set) == 0 {
			delete(r.members, room)
		}
		left = append(left, room)
	}
	return left
}

// Members returns a snapshot of the clients in room.
func (r *Rooms) Members(room RoomID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.members[room]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Joined returns the wire ids of the rooms c belongs to, sorted.
func (r *Rooms) Joined(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.joined[c]))
	for room := range r.joined[c] {
		out = append(out, room.String())
	}
	slices.Sort(out)
	return out
}

// IsMember reports whether c has joined room.
func (r *Rooms) IsMember(c *Client, room RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.members[room][c]
	return ok
}

// Len returns the number of non-empty rooms.
func (r *Rooms) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
