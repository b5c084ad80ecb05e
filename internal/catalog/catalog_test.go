package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avstrong/hostel/internal/booking"
	"github.com/avstrong/hostel/internal/catalog"
)

func TestDefault(t *testing.T) {
	c := catalog.Default()

	require.Equal(t, 38, c.TotalCapacity())
	require.Len(t, c.Rooms(), 4)

	f7, err := c.Get("F7")
	require.NoError(t, err)
	require.True(t, f7.IsFlexible)
	require.Equal(t, booking.RoomTypeFemale, f7.BaseType)
	require.Equal(t, 48, f7.AutoConvertThresholdHours)

	_, err = c.Get("X1")
	require.ErrorIs(t, err, catalog.ErrRoomNotFound)
}

func TestRoomsIsACopy(t *testing.T) {
	c := catalog.Default()

	rooms := c.Rooms()
	rooms[0].Capacity = 99

	again, err := c.Get(rooms[0].ID)
	require.NoError(t, err)
	require.Equal(t, 12, again.Capacity)
}

func TestNewRejectsBadCatalogs(t *testing.T) {
	flex := booking.Room{ID: "F", Capacity: 7, BaseType: booking.RoomTypeFemale, IsFlexible: true, AutoConvertThresholdHours: 48}

	cases := map[string][]booking.Room{
		"no flexible room": {{ID: "A", Capacity: 4, BaseType: booking.RoomTypeMixed}},
		"two flexible":     {flex, {ID: "G", Capacity: 7, BaseType: booking.RoomTypeFemale, IsFlexible: true, AutoConvertThresholdHours: 24}},
		"duplicate id":     {flex, {ID: "F", Capacity: 3, BaseType: booking.RoomTypeMixed}},
		"zero capacity":    {flex, {ID: "A", Capacity: 0, BaseType: booking.RoomTypeMixed}},
		"unknown type":     {flex, {ID: "A", Capacity: 2, BaseType: "male"}},
		"no threshold":     {{ID: "F", Capacity: 7, BaseType: booking.RoomTypeFemale, IsFlexible: true}},
	}

	for name, rooms := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := catalog.New(rooms)
			require.ErrorIs(t, err, catalog.ErrInvalidCatalog)
		})
	}
}
