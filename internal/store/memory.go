package store

import (
	"context"
	"sync"

	"github.com/ruijietay/Dabao4Me/internal/engine"
	"github.com/ruijietay/Dabao4Me/internal/models"
)

// Memory implements both stores with mutex-guarded maps, honouring the
// same conditional-update semantics as the SQLite store. Used by tests
// and for running the bot without a database file.
type Memory struct {
	mu       sync.Mutex
	requests map[string]models.Request
	ratings  map[int64]models.RatingRecord
}

var (
	_ engine.RequestStore = (*Memory)(nil)
	_ engine.RatingStore  = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		requests: make(map[string]models.Request),
		ratings:  make(map[int64]models.RatingRecord),
	}
}

func (m *Memory) Put(_ context.Context, req models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = req
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return models.Request{}, engine.ErrNotFound
	}
	return req, nil
}

func (m *Memory) ConditionalUpdate(_ context.Context, id string, expected models.RequestStatus, update engine.RequestUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return engine.ErrNotFound
	}
	if req.Status != expected {
		return engine.ErrStateConflict
	}
	if update.Canteen != nil {
		req.Canteen = *update.Canteen
	}
	if update.Food != nil {
		req.Food = *update.Food
	}
	if update.Tip != nil {
		req.Tip = *update.Tip
	}
	if update.Status != nil {
		req.Status = *update.Status
	}
	if update.FulfillerID != nil {
		req.FulfillerID = *update.FulfillerID
	}
	if update.FulfillerName != nil {
		req.FulfillerName = *update.FulfillerName
	}
	if update.FulfillerChatID != nil {
		req.FulfillerChatID = *update.FulfillerChatID
	}
	m.requests[id] = req
	return nil
}

func (m *Memory) ConditionalDelete(_ context.Context, id string, expected models.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return engine.ErrNotFound
	}
	if req.Status != expected {
		return engine.ErrStateConflict
	}
	delete(m.requests, id)
	return nil
}

func (m *Memory) ConfirmCompletion(_ context.Context, id string, role models.Role) (models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return models.Request{}, engine.ErrNotFound
	}
	if req.Status != models.StatusInProgress {
		return models.Request{}, engine.ErrNotInProgress
	}
	if req.Confirmed(role) {
		return models.Request{}, engine.ErrAlreadyConfirmed
	}
	if role == models.RoleRequester {
		req.RequesterConfirmed = true
		if req.FulfillerConfirmed {
			req.Status = models.StatusComplete
		}
	} else {
		req.FulfillerConfirmed = true
		if req.RequesterConfirmed {
			req.Status = models.StatusComplete
		}
	}
	m.requests[id] = req
	return req, nil
}

func (m *Memory) QueryByCanteen(_ context.Context, canteen models.Canteen, status models.RequestStatus) ([]models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Request
	for _, req := range m.requests {
		if req.Canteen == canteen && req.Status == status {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *Memory) QueryByRequester(_ context.Context, requesterID int64, status models.RequestStatus) ([]models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Request
	for _, req := range m.requests {
		if req.RequesterID == requesterID && req.Status == status {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *Memory) GetOrDefault(_ context.Context, userID int64) (models.RatingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.ratings[userID]
	if !ok {
		rec = models.RatingRecord{UserID: userID}
	}
	return rec, nil
}

func (m *Memory) Increment(_ context.Context, userID int64, field engine.RatingField, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.ratings[userID]
	if !ok {
		rec = models.RatingRecord{UserID: userID}
	}
	switch field {
	case engine.FieldGoodGiven:
		rec.GoodGiven += delta
	case engine.FieldBadGiven:
		rec.BadGiven += delta
	case engine.FieldGoodReceived:
		rec.GoodReceived += delta
	case engine.FieldBadReceived:
		rec.BadReceived += delta
	}
	m.ratings[userID] = rec
	return nil
}
