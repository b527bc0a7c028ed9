package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/roster-sync/clients"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Mary-Jane", "MaryJane"},
		{"O'Brien", "OBrien"},
		{"  Zoë  ", "Zo"},
		{"Anne Marie 2", "Anne Marie 2"},
		{"李", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), tt.in)
	}
}

func TestResolveUsesCache(t *testing.T) {
	api := newFakeScheduler()
	api.addIdentity("1001", 77, "HUR")
	r := NewAccountResolver(api, "1001")
	ctx := context.Background()
	p := Person{ExternalID: "1001", FirstName: "Jane", LastName: "Citizen"}

	got, err := r.Resolve(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 77, got.ID)
	assert.True(t, got.WorkedAt("HUR"))

	delete(api.identities, "1001")
	got, err = r.Resolve(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 77, got.ID)
	assert.Empty(t, api.creates)
}

func TestResolveCreatesOnMiss(t *testing.T) {
	api := newFakeScheduler()
	api.identCount = 3
	r := NewAccountResolver(api, "1001")

	got, err := r.Resolve(context.Background(), Person{ExternalID: "42", Email: "mj@example.com", FirstName: "Mary-Jane", LastName: "O'Brien"})
	require.NoError(t, err)
	assert.True(t, got.Created)
	assert.Equal(t, "MOB25", got.Username)

	require.Len(t, api.creates, 1)
	in := api.creates[0]
	assert.Equal(t, "MO4", in.Identifier)
	assert.Equal(t, "MaryJane", in.GivenName)
	assert.Equal(t, "OBrien", in.Surname)
	assert.Equal(t, "1001", in.Password)
	assert.Equal(t, "42", in.ExternalUserID)
	assert.True(t, in.UseAppBook)
	assert.True(t, in.IsRoamingUser)
}

func TestCreateBumpsCollidingSuffix(t *testing.T) {
	api := newFakeScheduler()
	calls := 0
	api.createFn = func(in clients.NewIdentity) (int, error) {
		calls++
		switch calls {
		case 1:
			return 0, &clients.CreateError{Field: "IDENTIFIER", Message: "IDENTIFIER already exists"}
		case 2:
			return 0, &clients.CreateError{Field: "USERNAME", Message: "USERNAME already exists"}
		}
		return 900, nil
	}
	r := NewAccountResolver(api, "1001")

	got, err := r.Create(context.Background(), Person{ExternalID: "7", Email: "j@example.com", FirstName: "Jo", LastName: "Li"})
	require.NoError(t, err)
	assert.Equal(t, 900, got.ID)

	require.Len(t, api.creates, 3)
	assert.Equal(t, []string{"JL1", "JL2", "JL2"}, []string{api.creates[0].Identifier, api.creates[1].Identifier, api.creates[2].Identifier})
	assert.Equal(t, []string{"JLI25", "JLI25", "JLI26"}, []string{api.creates[0].Username, api.creates[1].Username, api.creates[2].Username})
}

func TestCreateTerminatesWhenEveryCandidateCollides(t *testing.T) {
	api := newFakeScheduler()
	api.createFn = func(in clients.NewIdentity) (int, error) {
		return 0, &clients.CreateError{Field: "IDENTIFIER", Message: "duplicate IDENTIFIER"}
	}
	r := NewAccountResolver(api, "1001")

	_, err := r.Create(context.Background(), Person{Email: "j@example.com", FirstName: "Jane", LastName: "Citizen"})
	assert.ErrorIs(t, err, ErrAccountAttemptsExhausted)
	assert.Len(t, api.creates, 20)
}

func TestCreateAbortsOnOtherErrors(t *testing.T) {
	api := newFakeScheduler()
	api.createFn = func(in clients.NewIdentity) (int, error) {
		return 0, &clients.CreateError{Message: "database offline"}
	}
	r := NewAccountResolver(api, "1001")

	_, err := r.Create(context.Background(), Person{Email: "j@example.com", FirstName: "Jane", LastName: "Citizen"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAccountAttemptsExhausted)
	assert.Len(t, api.creates, 1)
}

func TestCreateRejectsInvalidInputBeforeCalling(t *testing.T) {
	api := newFakeScheduler()
	r := NewAccountResolver(api, "1001")
	ctx := context.Background()

	_, err := r.Create(ctx, Person{Email: "x@example.com", FirstName: "!!!", LastName: "Citizen"})
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = r.Create(ctx, Person{Email: "not-an-email", FirstName: "Jane", LastName: "Citizen"})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	assert.Empty(t, api.creates)
}

func TestRecordWorkHistoryUpdatesCache(t *testing.T) {
	api := newFakeScheduler()
	api.addIdentity("5", 55)
	r := NewAccountResolver(api, "1001")
	ctx := context.Background()
	p := Person{ExternalID: "5", FirstName: "A", LastName: "B"}

	id, err := r.Resolve(ctx, p)
	require.NoError(t, err)
	require.False(t, id.WorkedAt("PAR"))

	require.NoError(t, r.RecordWorkHistory(ctx, p, id, "PAR"))
	cached, err := r.Resolve(ctx, p)
	require.NoError(t, err)
	assert.True(t, cached.WorkedAt("PAR"))
	assert.Equal(t, []string{"PAR"}, api.history[55])
}
