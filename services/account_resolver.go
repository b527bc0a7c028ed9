package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/roster-sync/cache"
	"github.com/yeremiapane/roster-sync/clients"
	"github.com/yeremiapane/roster-sync/utils"
	"golang.org/x/sync/singleflight"
)

const (
	identityTTL         = 24 * time.Hour
	firstUsernameSuffix = 25
	defaultMaxAttempts  = 20
)

var (
	ErrInvalidName              = errors.New("name is empty after sanitizing")
	ErrInvalidEmail             = errors.New("invalid email address")
	ErrAccountAttemptsExhausted = errors.New("account creation attempts exhausted")
)

// Person is who an account is resolved for.
type Person struct {
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
}

// cacheKey prefers the stable external id.
func (p Person) cacheKey() string {
	if p.ExternalID != "" {
		return "ext:" + p.ExternalID
	}
	return p.FirstName + "_" + p.LastName + "_" + p.Email
}

// ResolvedIdentity is a scheduling-system account. Created is set when the
// account did not exist before this lookup.
type ResolvedIdentity struct {
	ID          int      `json:"id"`
	WorkHistory []string `json:"workHistory"`
	Username    string   `json:"username,omitempty"`
	Created     bool     `json:"-"`
}

// WorkedAt reports whether branch is in the identity's work history.
func (r ResolvedIdentity) WorkedAt(branch string) bool {
	for _, b := range r.WorkHistory {
		if b == branch {
			return true
		}
	}
	return false
}

// AccountResolver finds a practitioner account, creating it on a total miss.
type AccountResolver struct {
	API             AccountAPI
	Identities      *cache.TTLCache[ResolvedIdentity]
	IdentifierCount *cache.TTLCache[int]
	DefaultPassword string
	MaxAttempts     int

	group singleflight.Group
}

// NewAccountResolver caches lookups in memory for a day.
func NewAccountResolver(api AccountAPI, defaultPassword string) *AccountResolver {
	return &AccountResolver{
		API:             api,
		Identities:      cache.New[ResolvedIdentity](cache.NewMemoryStore(), identityTTL),
		IdentifierCount: cache.New[int](cache.NewMemoryStore(), time.Hour),
		DefaultPassword: defaultPassword,
		MaxAttempts:     defaultMaxAttempts,
	}
}

// Resolve searches by external id, then email, then name. A search error is
// logged and treated as a miss so that creation is still attempted.
// Concurrent calls for the same person share one lookup.
func (r *AccountResolver) Resolve(ctx context.Context, p Person) (ResolvedIdentity, error) {
	key := p.cacheKey()
	if id, ok := r.Identities.Get(ctx, key); ok {
		return id, nil
	}
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if id, ok := r.Identities.Get(ctx, key); ok {
			return id, nil
		}
		return r.resolve(ctx, key, p)
	})
	if err != nil {
		return ResolvedIdentity{}, err
	}
	return v.(ResolvedIdentity), nil
}

func (r *AccountResolver) resolve(ctx context.Context, key string, p Person) (ResolvedIdentity, error) {
	found, err := r.search(ctx, p)
	if err != nil {
		utils.ErrorLogger.WithError(err).WithField("person", p.FirstName+" "+p.LastName).
			Error("account search failed, attempting creation")
	}
	if found != nil {
		resolved := ResolvedIdentity{ID: found.ID, WorkHistory: found.WorkHistory}
		r.remember(ctx, key, resolved)
		r.patch(ctx, found, p)
		return resolved, nil
	}

	resolved, err := r.Create(ctx, p)
	if err != nil {
		return ResolvedIdentity{}, err
	}
	r.remember(ctx, key, resolved)
	return resolved, nil
}

func (r *AccountResolver) search(ctx context.Context, p Person) (*clients.Identity, error) {
	if p.ExternalID != "" {
		id, err := r.API.SearchByExternalID(ctx, p.ExternalID)
		if err != nil || id != nil {
			return id, err
		}
	}
	if p.Email != "" {
		id, err := r.API.SearchByEmail(ctx, p.Email)
		if err != nil || id != nil {
			return id, err
		}
	}
	return r.API.SearchByName(ctx, p.FirstName, p.LastName)
}

func (r *AccountResolver) remember(ctx context.Context, key string, id ResolvedIdentity) {
	stored := id
	stored.Created = false
	if err := r.Identities.Set(ctx, key, stored); err != nil {
		utils.ErrorLogger.WithError(err).WithField("key", key).Error("cache identity failed")
	}
}

// patch brings the account's external id and email in line with the roster.
// Failure is only logged.
func (r *AccountResolver) patch(ctx context.Context, found *clients.Identity, p Person) {
	ext, email := "", ""
	if p.ExternalID != "" && found.ExternalUserID != p.ExternalID {
		ext = p.ExternalID
	}
	if p.Email != "" && found.Email != p.Email {
		email = p.Email
	}
	if ext == "" && email == "" {
		return
	}
	if err := r.API.UpdateIdentity(ctx, found.ID, ext, email); err != nil {
		utils.ErrorLogger.WithError(err).WithField("optom_id", found.ID).Error("account update failed")
		return
	}
	utils.InfoLogger.WithField("optom_id", found.ID).Info("account contact details updated")
}

var nameFilter = regexp.MustCompile(`[^A-Za-z0-9 ]`)

// SanitizeName keeps ASCII letters, digits and spaces.
func SanitizeName(s string) string {
	return strings.TrimSpace(nameFilter.ReplaceAllString(s, ""))
}

func usernameBase(given, surname string) string {
	base := given[:1] + surname[:1]
	if len(surname) > 1 {
		base += surname[1:2]
	}
	return strings.ToUpper(base)
}

// Create submits new accounts until one is accepted. An identifier collision
// bumps the identifier suffix, a username collision bumps the username
// suffix, and any other rejection aborts.
func (r *AccountResolver) Create(ctx context.Context, p Person) (ResolvedIdentity, error) {
	given := SanitizeName(p.FirstName)
	surname := SanitizeName(p.LastName)
	if given == "" || surname == "" {
		return ResolvedIdentity{}, fmt.Errorf("%w: %q %q", ErrInvalidName, p.FirstName, p.LastName)
	}
	if !strings.Contains(p.Email, "@") {
		return ResolvedIdentity{}, fmt.Errorf("%w: %q", ErrInvalidEmail, p.Email)
	}

	prefix := given[:1] + surname[:1]
	existing, err := r.identifierCount(ctx, prefix)
	if err != nil {
		return ResolvedIdentity{}, err
	}

	i := existing + 1
	u := firstUsernameSuffix
	base := usernameBase(given, surname)
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	log := utils.InfoLogger.WithFields(logrus.Fields{"given": given, "surname": surname})
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return ResolvedIdentity{}, err
		}
		username := base + strconv.Itoa(u)
		in := clients.NewIdentity{
			Identifier:     prefix + strconv.Itoa(i),
			GivenName:      given,
			Surname:        surname,
			UserType:       1,
			Username:       username,
			Password:       r.DefaultPassword,
			Email:          p.Email,
			UseAppBook:     true,
			IsRoamingUser:  true,
			ExternalUserID: p.ExternalID,
		}

		id, err := r.API.CreateIdentity(ctx, in)
		if err == nil {
			log.WithFields(logrus.Fields{"optom_id": id, "username": username, "attempt": attempt}).Info("account created")
			if err := r.IdentifierCount.Set(ctx, prefix, i); err != nil {
				utils.ErrorLogger.WithError(err).Error("cache identifier count failed")
			}
			return ResolvedIdentity{ID: id, Username: username, Created: true}, nil
		}

		var createErr *clients.CreateError
		if !errors.As(err, &createErr) {
			return ResolvedIdentity{}, err
		}
		switch createErr.Field {
		case "IDENTIFIER":
			i++
		case "USERNAME":
			u++
		default:
			return ResolvedIdentity{}, err
		}
		log.WithFields(logrus.Fields{"attempt": attempt, "collision": createErr.Field}).Warn("account creation collided, retrying")
	}
	return ResolvedIdentity{}, fmt.Errorf("%w: %s %s after %d attempts", ErrAccountAttemptsExhausted, given, surname, maxAttempts)
}

func (r *AccountResolver) identifierCount(ctx context.Context, prefix string) (int, error) {
	if n, ok := r.IdentifierCount.Get(ctx, prefix); ok {
		return n, nil
	}
	n, err := r.API.CountIdentifiers(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("count identifiers %s: %w", prefix, err)
	}
	if err := r.IdentifierCount.Set(ctx, prefix, n); err != nil {
		utils.ErrorLogger.WithError(err).Error("cache identifier count failed")
	}
	return n, nil
}

// RecordWorkHistory adds branch to the identity's work history and refreshes
// the cached copy.
func (r *AccountResolver) RecordWorkHistory(ctx context.Context, p Person, id ResolvedIdentity, branch string) error {
	if err := r.API.AddWorkHistory(ctx, id.ID, branch); err != nil {
		return err
	}
	if !id.WorkedAt(branch) {
		id.WorkHistory = append(append([]string(nil), id.WorkHistory...), branch)
	}
	r.remember(ctx, p.cacheKey(), id)
	return nil
}
