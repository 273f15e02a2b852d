package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNewRequestIDOrder(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := NewRequestID(base, 99)
	later := NewRequestID(base.Add(time.Nanosecond), 1)
	assert.Less(t, earlier, later)
}

func TestNewRequestIDDistinguishesRequesters(t *testing.T) {
	now := time.Now()
	assert.NotEqual(t, NewRequestID(now, 1), NewRequestID(now, 2))
}

func TestValidTip(t *testing.T) {
	tests := []struct {
		tip  string
		want bool
	}{
		{"0", true},
		{"1.5", true},
		{"1.50", true},
		{"10", true},
		{"1.500", true},
		{"2.00", true},
		{"-0.01", false},
		{"1.505", false},
		{"0.005", false},
	}
	for _, tt := range tests {
		t.Run(tt.tip, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidTip(decimal.RequireFromString(tt.tip)))
		})
	}
}

func TestCanteen(t *testing.T) {
	assert.True(t, CanteenDeck.Valid())
	assert.False(t, Canteen("mcdonalds").Valid())
	assert.Equal(t, "Flavours @ Utown", CanteenFlavours.DisplayName())
	assert.Len(t, Canteens, 6)
}

func TestRoleCounterpart(t *testing.T) {
	assert.Equal(t, RoleFulfiller, RoleRequester.Counterpart())
	assert.Equal(t, RoleRequester, RoleFulfiller.Counterpart())
}

func TestRoleOf(t *testing.T) {
	req := Request{RequesterID: 1}
	role, ok := req.RoleOf(1)
	assert.True(t, ok)
	assert.Equal(t, RoleRequester, role)

	// Unmatched: user id 0 is not the fulfiller.
	_, ok = req.RoleOf(0)
	assert.False(t, ok)

	req.FulfillerID = 2
	role, ok = req.RoleOf(2)
	assert.True(t, ok)
	assert.Equal(t, RoleFulfiller, role)

	_, ok = req.RoleOf(3)
	assert.False(t, ok)
}
