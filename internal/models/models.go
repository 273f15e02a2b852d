package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type RequestStatus string

const (
	StatusAvailable  RequestStatus = "Available"
	StatusInProgress RequestStatus = "InProgress"
	StatusClosed     RequestStatus = "Closed"
	StatusComplete   RequestStatus = "Complete"
)

type Role string

const (
	RoleRequester Role = "requester"
	RoleFulfiller Role = "fulfiller"
)

// Counterpart returns the other side of a match.
func (r Role) Counterpart() Role {
	if r == RoleRequester {
		return RoleFulfiller
	}
	return RoleRequester
}

type Canteen string

const (
	CanteenDeck       Canteen = "deck"
	CanteenFrontier   Canteen = "frontier"
	CanteenFineFoods  Canteen = "fine_foods"
	CanteenFlavours   Canteen = "flavours"
	CanteenTechnoEdge Canteen = "technoedge"
	CanteenPGPR       Canteen = "pgpr"
)

// Canteens lists every known canteen in menu order.
var Canteens = []Canteen{
	CanteenDeck,
	CanteenFrontier,
	CanteenFineFoods,
	CanteenFlavours,
	CanteenTechnoEdge,
	CanteenPGPR,
}

var canteenNames = map[Canteen]string{
	CanteenDeck:       "The Deck",
	CanteenFrontier:   "Frontier",
	CanteenFineFoods:  "Fine Foods",
	CanteenFlavours:   "Flavours @ Utown",
	CanteenTechnoEdge: "TechnoEdge",
	CanteenPGPR:       "PGPR",
}

// Valid reports whether c is one of the known canteens.
func (c Canteen) Valid() bool {
	_, ok := canteenNames[c]
	return ok
}

// DisplayName returns the human-readable canteen name.
func (c Canteen) DisplayName() string {
	if name, ok := canteenNames[c]; ok {
		return name
	}
	return string(c)
}

// Request is a food-run request posted by a requester and optionally
// claimed by a fulfiller. ID sorts lexicographically in submission order.
type Request struct {
	ID                 string
	RequesterID        int64
	RequesterName      string
	RequesterChatID    int64
	Canteen            Canteen
	Food               string
	Tip                decimal.Decimal
	FulfillerID        int64
	FulfillerName      string
	FulfillerChatID    int64
	Status             RequestStatus
	RequesterConfirmed bool
	FulfillerConfirmed bool
	CreatedAt          time.Time
}

// ChatIDFor returns the chat id for one side of the request.
func (r Request) ChatIDFor(role Role) int64 {
	if role == RoleRequester {
		return r.RequesterChatID
	}
	return r.FulfillerChatID
}

// NameFor returns the display name for one side of the request.
func (r Request) NameFor(role Role) string {
	if role == RoleRequester {
		return r.RequesterName
	}
	return r.FulfillerName
}

// RoleOf resolves which side of the request a user is on, if any.
func (r Request) RoleOf(userID int64) (Role, bool) {
	if userID == r.RequesterID {
		return RoleRequester, true
	}
	if r.FulfillerID != 0 && userID == r.FulfillerID {
		return RoleFulfiller, true
	}
	return "", false
}

// Confirmed reports whether the given side has confirmed completion.
func (r Request) Confirmed(role Role) bool {
	if role == RoleRequester {
		return r.RequesterConfirmed
	}
	return r.FulfillerConfirmed
}

// NewRequestID builds the storage key for a request created at t. The
// nanosecond timestamp is zero-padded so lexicographic order matches
// submission order; the requester id suffix keeps concurrent creations
// by different users unique.
func NewRequestID(t time.Time, requesterID int64) string {
	return fmt.Sprintf("%019d-%d", t.UnixNano(), requesterID)
}

// RatingRecord holds per-user reputation counters. Records are created
// lazily with zero values on first access.
type RatingRecord struct {
	UserID       int64
	GoodGiven    int64
	BadGiven     int64
	GoodReceived int64
	BadReceived  int64
}

// Percentage reduces the received counters to a 0-100 trust figure.
// An unrated user scores 0.
func (r RatingRecord) Percentage() int {
	total := r.GoodReceived + r.BadReceived
	if total == 0 {
		return 0
	}
	return int((100*r.GoodReceived + total/2) / total)
}

// TotalReceived is the number of ratings the user has received.
func (r RatingRecord) TotalReceived() int64 {
	return r.GoodReceived + r.BadReceived
}

type Verdict string

const (
	VerdictGood Verdict = "good"
	VerdictBad  Verdict = "bad"
)

// ValidTip reports whether tip is usable as a tip amount: non-negative
// with at most two decimal places of value. Trailing zeros ("1.500")
// are accepted.
func ValidTip(tip decimal.Decimal) bool {
	return !tip.IsNegative() && tip.Equal(tip.Truncate(2))
}
