package model

import (
	"strconv"
	"time"
)

// SeatStatus enumerates the three states a seat on a trip can be in.
type SeatStatus string

const (
	SeatFree   SeatStatus = "free"
	SeatHeld   SeatStatus = "held"
	SeatBooked SeatStatus = "booked"
)

// SeatState describes one seat of a trip at an instant.  SessionID and
// ExpiresAt are only meaningful for held seats, BookingID only for
// booked seats.
type SeatState struct {
	Label     string     `json:"seatNumber"`
	Status    SeatStatus `json:"status"`
	SessionID string     `json:"-"`
	ExpiresAt time.Time  `json:"-"`
	BookingID string     `json:"-"`
}

// DefaultSeatsPerRow matches the 2+2 layout of a standard coach.
const DefaultSeatsPerRow = 4

// SeatLabels generates the seat labels of a bus with total seats laid
// out perRow seats to a row: A1..A4, B1..B4 and so on.  Rows past Z
// continue with AA, AB.
func SeatLabels(total, perRow int) []string {
	if total <= 0 {
		return []string{}
	}
	if perRow <= 0 {
		perRow = DefaultSeatsPerRow
	}
	labels := make([]string, 0, total)
	for i := 0; i < total; i++ {
		labels = append(labels, rowLabel(i/perRow)+strconv.Itoa(i%perRow+1))
	}
	return labels
}

// rowLabel converts a zero-based index to an alphabetical row label
// like A, B, AA.
func rowLabel(i int) string {
	res := []rune{}
	for {
		res = append(res, rune('A'+i%26))
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	for j, k := 0, len(res)-1; j < k; j, k = j+1, k-1 {
		res[j], res[k] = res[k], res[j]
	}
	return string(res)
}
