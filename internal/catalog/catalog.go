package catalog

import (
	"errors"
	"fmt"

	"github.com/avstrong/hostel/internal/booking"
)

const defaultFlexibleHrs = 48

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrInvalidCatalog = errors.New("invalid room catalog")
)

// Catalog is the immutable list of rooms known at startup.
type Catalog struct {
	rooms []booking.Room
	byID  map[string]booking.Room
}

func Default() *Catalog {
	c, err := New([]booking.Room{
		{ID: "M12A", DisplayName: "Mixed dorm 12A", Capacity: 12, BaseType: booking.RoomTypeMixed}, //nolint:exhaustruct,gomnd
		{ID: "M12B", DisplayName: "Mixed dorm 12B", Capacity: 12, BaseType: booking.RoomTypeMixed}, //nolint:exhaustruct,gomnd
		{ID: "M7", DisplayName: "Mixed dorm 7", Capacity: 7, BaseType: booking.RoomTypeMixed},      //nolint:exhaustruct,gomnd
		{
			ID:                        "F7",
			DisplayName:               "Female dorm 7",
			Capacity:                  7, //nolint:gomnd
			BaseType:                  booking.RoomTypeFemale,
			IsFlexible:                true,
			AutoConvertThresholdHours: defaultFlexibleHrs,
		},
	})
	if err != nil {
		panic(err)
	}

	return c
}

func New(rooms []booking.Room) (*Catalog, error) {
	c := &Catalog{
		rooms: make([]booking.Room, 0, len(rooms)),
		byID:  make(map[string]booking.Room, len(rooms)),
	}

	flexible := 0

	for _, room := range rooms {
		if room.ID == "" {
			return nil, fmt.Errorf("room without id: %w", ErrInvalidCatalog)
		}

		if _, ok := c.byID[room.ID]; ok {
			return nil, fmt.Errorf("duplicated room %v: %w", room.ID, ErrInvalidCatalog)
		}

		if room.Capacity <= 0 {
			return nil, fmt.Errorf("room %v capacity must be positive: %w", room.ID, ErrInvalidCatalog)
		}

		if room.BaseType != booking.RoomTypeMixed && room.BaseType != booking.RoomTypeFemale {
			return nil, fmt.Errorf("room %v has unknown type %q: %w", room.ID, room.BaseType, ErrInvalidCatalog)
		}

		if room.IsFlexible {
			flexible++

			if room.AutoConvertThresholdHours <= 0 {
				return nil, fmt.Errorf("flexible room %v needs a threshold: %w", room.ID, ErrInvalidCatalog)
			}
		}

		c.rooms = append(c.rooms, room)
		c.byID[room.ID] = room
	}

	if flexible != 1 {
		return nil, fmt.Errorf("want exactly one flexible room, got %d: %w", flexible, ErrInvalidCatalog)
	}

	return c, nil
}

// Rooms returns a copy in catalog order.
func (c *Catalog) Rooms() []booking.Room {
	out := make([]booking.Room, len(c.rooms))
	copy(out, c.rooms)

	return out
}

func (c *Catalog) Get(id string) (booking.Room, error) {
	room, ok := c.byID[id]
	if !ok {
		return booking.Room{}, fmt.Errorf("room %v: %w", id, ErrRoomNotFound)
	}

	return room, nil
}

func (c *Catalog) TotalCapacity() int {
	total := 0
	for _, r := range c.rooms {
		total += r.Capacity
	}

	return total
}
