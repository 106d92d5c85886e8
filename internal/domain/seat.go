package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	MinSeatNo = 1
	MaxSeatNo = 10
)

// SeatRef identifies one physical seat.
type SeatRef struct {
	TableID string `json:"tableId"`
	SeatNo  int    `json:"seatNo"`
}

func (s SeatRef) String() string {
	return fmt.Sprintf("%s/%d", s.TableID, s.SeatNo)
}

// Normalize trims the table id and checks the seat number range.
func (s SeatRef) Normalize() (SeatRef, error) {
	s.TableID = strings.TrimSpace(s.TableID)
	if s.TableID == "" {
		return s, errors.Wrap(ErrBadItem, "table id is empty")
	}
	if s.SeatNo < MinSeatNo || s.SeatNo > MaxSeatNo {
		return s, errors.Wrapf(ErrBadItem, "seat %d out of range %d..%d", s.SeatNo, MinSeatNo, MaxSeatNo)
	}
	return s, nil
}

func seatLess(a, b SeatRef) bool {
	if a.TableID != b.TableID {
		return a.TableID < b.TableID
	}
	return a.SeatNo < b.SeatNo
}

// SortSeats orders seats by (table, seat) in place. Transactions lock rows in
// this order so overlapping batches never wait on each other in a cycle.
func SortSeats(seats []SeatRef) {
	sort.Slice(seats, func(i, j int) bool { return seatLess(seats[i], seats[j]) })
}

type SeatStatus string

const (
	SeatFree   SeatStatus = "free"
	SeatHeld   SeatStatus = "held"
	SeatBooked SeatStatus = "booked"
)

// SeatRow is the ledger row as stored. A missing row is a free seat.
type SeatRow struct {
	Seat          SeatRef
	OrderID       *int64
	HoldID        *string
	HoldExpiresAt *time.Time
}

// SeatState is the effective state of a seat at a given instant.
type SeatState struct {
	Status        SeatStatus
	HoldID        string
	HoldExpiresAt time.Time
	OrderID       int64
}

// State evaluates the row at now: booked wins, a hold counts only while its
// expiry lies strictly in the future, anything else is free.
func (r SeatRow) State(now time.Time) SeatState {
	if r.OrderID != nil {
		return SeatState{Status: SeatBooked, OrderID: *r.OrderID}
	}
	if r.HoldID != nil && *r.HoldID != "" && r.HoldExpiresAt != nil && r.HoldExpiresAt.After(now) {
		return SeatState{Status: SeatHeld, HoldID: *r.HoldID, HoldExpiresAt: *r.HoldExpiresAt}
	}
	return SeatState{Status: SeatFree}
}

// Available reports whether nobody owns the seat at now.
func (s SeatState) Available() bool { return s.Status == SeatFree }

// HeldBy reports whether the seat is held by a live hold with the given token.
func (s SeatState) HeldBy(holdID string) bool {
	return s.Status == SeatHeld && holdID != "" && s.HoldID == holdID
}
