package services

import "flat-notifier/models"

// Filter holds the acceptance criteria for a listing.
type Filter struct {
	MaxPrice     int
	AllowedRooms map[int]struct{}
}

func NewFilter(maxPrice int, allowedRooms []int) Filter {
	rooms := make(map[int]struct{}, len(allowedRooms))
	for _, r := range allowedRooms {
		rooms[r] = struct{}{}
	}
	return Filter{MaxPrice: maxPrice, AllowedRooms: rooms}
}

// Accept reports whether l has an allowed room count and a price no higher
// than MaxPrice.
func (f Filter) Accept(l *models.Listing) bool {
	if _, ok := f.AllowedRooms[l.RoomCount]; !ok {
		return false
	}
	return l.Price <= f.MaxPrice
}
