package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yeremiapane/roster-sync/clients"
)

type adjustCall struct {
	IdentityID int
	Adjustment clients.Adjustment
}

// fakeScheduler is an in-memory scheduling system.
type fakeScheduler struct {
	mu sync.Mutex

	identities map[string]*clients.Identity // by external id
	nextID     int
	createFn   func(in clients.NewIdentity) (int, error)
	creates    []clients.NewIdentity
	updates    int
	history    map[int][]string
	identCount int
	searchWait time.Duration

	adjustErr   map[int]error
	adjusts     []adjustCall
	booked      map[int]bool
	bookedErr   error
	adjustments map[int][]clients.AdjustEntry

	appointments map[string][]clients.Appointment
	apptErr      map[string]error
	apptCalls    int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		identities:   map[string]*clients.Identity{},
		nextID:       500,
		history:      map[int][]string{},
		adjustErr:    map[int]error{},
		booked:       map[int]bool{},
		adjustments:  map[int][]clients.AdjustEntry{},
		appointments: map[string][]clients.Appointment{},
		apptErr:      map[string]error{},
	}
}

func (f *fakeScheduler) addIdentity(externalID string, id int, history ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identities[externalID] = &clients.Identity{ID: id, ExternalUserID: externalID, WorkHistory: history}
}

func (f *fakeScheduler) SearchByExternalID(_ context.Context, externalID string) (*clients.Identity, error) {
	time.Sleep(f.searchWait)
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.identities[externalID]; ok {
		cp := *id
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeScheduler) SearchByEmail(context.Context, string) (*clients.Identity, error) {
	return nil, nil
}

func (f *fakeScheduler) SearchByName(context.Context, string, string) (*clients.Identity, error) {
	return nil, nil
}

func (f *fakeScheduler) CreateIdentity(_ context.Context, in clients.NewIdentity) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, in)
	if f.createFn != nil {
		return f.createFn(in)
	}
	f.nextID++
	f.identities[in.ExternalUserID] = &clients.Identity{ID: f.nextID, ExternalUserID: in.ExternalUserID, Email: in.Email}
	return f.nextID, nil
}

func (f *fakeScheduler) UpdateIdentity(context.Context, int, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return nil
}

func (f *fakeScheduler) AddWorkHistory(_ context.Context, identityID int, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[identityID] = append(f.history[identityID], branch)
	for _, id := range f.identities {
		if id.ID == identityID {
			id.WorkHistory = append(id.WorkHistory, branch)
		}
	}
	return nil
}

func (f *fakeScheduler) CountIdentifiers(context.Context, string) (int, error) {
	return f.identCount, nil
}

func (f *fakeScheduler) PostAdjust(_ context.Context, identityID int, adj clients.Adjustment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.adjustErr[identityID]; err != nil {
		return err
	}
	f.adjusts = append(f.adjusts, adjustCall{IdentityID: identityID, Adjustment: adj})
	return nil
}

func (f *fakeScheduler) HasAppointment(_ context.Context, identityID int, _ string, _, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookedErr != nil {
		return false, f.bookedErr
	}
	return f.booked[identityID], nil
}

func (f *fakeScheduler) ListAdjustments(_ context.Context, identityID int, _ string, _, _ time.Time) ([]clients.AdjustEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adjustments[identityID], nil
}

func (f *fakeScheduler) ListAppointments(_ context.Context, branch string, _, _ time.Time) ([]clients.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apptCalls++
	if err := f.apptErr[branch]; err != nil {
		return nil, err
	}
	return f.appointments[branch], nil
}

func (f *fakeScheduler) CountAppointments(_ context.Context, branch string, _, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apptCalls++
	if err := f.apptErr[branch]; err != nil {
		return 0, err
	}
	return len(f.appointments[branch]), nil
}

func (f *fakeScheduler) adjustCalls() []adjustCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adjustCall(nil), f.adjusts...)
}

var errUnavailable = errors.New("service unavailable")
