package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Identity is a practitioner account in the scheduling system.
type Identity struct {
	ID             int      `json:"optomId"`
	WorkHistory    []string `json:"workHistory"`
	ExternalUserID string   `json:"externalUserId"`
	Email          string   `json:"email"`
}

// Adjustment sets one practitioner's availability at a branch on a date.
type Adjustment struct {
	Date     string `json:"ADJUST_DATE"`
	Branch   string `json:"BRANCH_IDENTIFIER"`
	Start    string `json:"ADJUST_START"`
	Finish   string `json:"ADJUST_FINISH"`
	Inactive bool   `json:"INACTIVE"`
}

// NewIdentity is the account creation payload.
type NewIdentity struct {
	Identifier     string `json:"IDENTIFIER"`
	GivenName      string `json:"GIVEN_NAME"`
	Surname        string `json:"SURNAME"`
	UserType       int    `json:"USER_TYPE"`
	Username       string `json:"USERNAME"`
	Password       string `json:"PASSWORD"`
	Email          string `json:"EMAIL_ADDRESS"`
	IsAdmin        bool   `json:"IS_ADMINISTRATOR"`
	UseAppBook     bool   `json:"USE_APPBOOK"`
	IsRoamingUser  bool   `json:"IS_ROAMING_USER"`
	ExternalUserID string `json:"EXTERNAL_USER_ID"`
}

// AdjustEntry is an availability row stored in the scheduling system.
type AdjustEntry struct {
	Date     string `json:"ADJUST_DATE"`
	Branch   string `json:"BRANCH_IDENTIFIER"`
	Start    string `json:"ADJUST_START"`
	Finish   string `json:"ADJUST_FINISH"`
	Inactive bool   `json:"INACTIVE"`
}

// Appointment is a booked appointment row.
type Appointment struct {
	ID            int       `json:"ID"`
	IdentityID    int       `json:"OPTOMETRIST_ID"`
	Branch        string    `json:"BRANCH_IDENTIFIER"`
	StartDateTime time.Time `json:"STARTDATETIME"`
	EndDateTime   time.Time `json:"ENDDATETIME"`
}

// Minutes is the booked length of the appointment.
func (a Appointment) Minutes() int {
	return int(a.EndDateTime.Sub(a.StartDateTime) / time.Minute)
}

// CreateError is a rejected account creation. Field names the colliding
// attribute, IDENTIFIER or USERNAME, when the message mentions one.
type CreateError struct {
	Field   string
	Message string
}

func (e *CreateError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("create identity: %s collision: %s", e.Field, e.Message)
	}
	return "create identity: " + e.Message
}

var collisionField = regexp.MustCompile(`(?i)\b(IDENTIFIER|USERNAME)\b`)

func classifyCreateError(msg string) *CreateError {
	e := &CreateError{Message: msg}
	if m := collisionField.FindStringSubmatch(msg); m != nil {
		e.Field = strings.ToUpper(m[1])
	}
	return e
}

// SchedulingClient covers both the scheduling gateway (bearer token) and the
// scheduling system's OData API (basic auth).
type SchedulingClient struct {
	GatewayURL    string
	GatewayToken  string
	ODataURL      string
	ODataUser     string
	ODataPassword string
	// HouseAccountID is excluded from branch appointment totals when non-zero.
	HouseAccountID int
	HTTPClient     *http.Client
}

func NewSchedulingClient(gatewayURL, token, odataURL, odataUser, odataPassword string) *SchedulingClient {
	return &SchedulingClient{
		GatewayURL:     gatewayURL,
		GatewayToken:   token,
		ODataURL:       odataURL,
		ODataUser:      odataUser,
		ODataPassword:  odataPassword,
		HouseAccountID: 164,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type gatewayEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
	Details struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"details"`
}

func (e *gatewayEnvelope) message() string {
	if e.Details.Error.Message != "" {
		return e.Details.Error.Message
	}
	var s string
	if err := json.Unmarshal(e.Error, &s); err == nil && s != "" {
		return s
	}
	if len(e.Error) > 0 {
		return string(e.Error)
	}
	return "request unsuccessful"
}

// gateway sends a JSON request and decodes the envelope. A non-2xx answer
// whose body is still an envelope is returned as the envelope.
func (c *SchedulingClient) gateway(ctx context.Context, op, method, path string, body interface{}) (*gatewayEnvelope, error) {
	if c.GatewayURL == "" {
		return nil, fmt.Errorf("scheduling gateway: %w", ErrNotConfigured)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.GatewayURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.GatewayToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.GatewayToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var env gatewayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &APIError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	if resp.StatusCode >= 500 {
		return nil, &APIError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	return &env, nil
}

// PostAdjust sends one availability adjustment.
func (c *SchedulingClient) PostAdjust(ctx context.Context, identityID int, adj Adjustment) error {
	env, err := c.gateway(ctx, "post adjust", http.MethodPost, "/api/appointments/appAdjust", map[string]interface{}{
		"id":          identityID,
		"adjust_data": adj,
	})
	if err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("post adjust for %d: %s", identityID, env.message())
	}
	return nil
}

func (c *SchedulingClient) search(ctx context.Context, path string, body map[string]string) (*Identity, error) {
	env, err := c.gateway(ctx, "search identity", http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if !env.Success || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	var ident Identity
	if err := json.Unmarshal(env.Data, &ident); err != nil {
		return nil, fmt.Errorf("search identity: decode: %w", err)
	}
	if ident.ID == 0 {
		return nil, nil
	}
	return &ident, nil
}

// SearchByExternalID returns nil without error when there is no match.
func (c *SchedulingClient) SearchByExternalID(ctx context.Context, externalID string) (*Identity, error) {
	return c.search(ctx, "/api/optometrists/searchByExternalId", map[string]string{"externalUserId": externalID})
}

func (c *SchedulingClient) SearchByEmail(ctx context.Context, email string) (*Identity, error) {
	return c.search(ctx, "/api/optometrists/searchByEmail", map[string]string{"email": email})
}

func (c *SchedulingClient) SearchByName(ctx context.Context, firstName, lastName string) (*Identity, error) {
	return c.search(ctx, "/api/optometrists/search", map[string]string{"firstName": firstName, "lastName": lastName})
}

// CreateIdentity creates an account and returns its id. Rejections are
// returned as *CreateError.
func (c *SchedulingClient) CreateIdentity(ctx context.Context, in NewIdentity) (int, error) {
	env, err := c.gateway(ctx, "create identity", http.MethodPost, "/api/optometrists/createUser", in)
	if err != nil {
		return 0, err
	}
	if !env.Success {
		return 0, classifyCreateError(env.message())
	}
	var created struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil || created.ID == 0 {
		return 0, fmt.Errorf("create identity: unexpected response %s", string(env.Data))
	}
	return created.ID, nil
}

// UpdateIdentity sets the external id and email on an existing account.
func (c *SchedulingClient) UpdateIdentity(ctx context.Context, identityID int, externalUserID, email string) error {
	body := map[string]interface{}{"externalUserId": nil, "email": nil}
	if externalUserID != "" {
		body["externalUserId"] = externalUserID
	}
	if email != "" {
		body["email"] = email
	}
	env, err := c.gateway(ctx, "update identity", http.MethodPatch, "/api/optometrist/"+strconv.Itoa(identityID), body)
	if err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("update identity %d: %s", identityID, env.message())
	}
	return nil
}

// AddWorkHistory records that the identity has worked at branch.
func (c *SchedulingClient) AddWorkHistory(ctx context.Context, identityID int, branch string) error {
	env, err := c.gateway(ctx, "add work history", http.MethodPost, "/api/optometrists/optomWorkHistory", map[string]interface{}{
		"optomId":       identityID,
		"workedHistory": branch,
	})
	if err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("add work history %d/%s: %s", identityID, branch, env.message())
	}
	return nil
}

func odataTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func odataString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// confirmedFilter excludes placeholder types and cancelled, no-show and
// deleted statuses.
const confirmedFilter = "APPOINTMENT_TYPE ne 'NA' and STATUS ne 6 and STATUS ne 7 and STATUS ne 9"

func (c *SchedulingClient) odata(ctx context.Context, op, path string, q url.Values, out interface{}) error {
	if c.ODataURL == "" {
		return fmt.Errorf("scheduling odata: %w", ErrNotConfigured)
	}
	endpoint := c.ODataURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.ODataUser, c.ODataPassword)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// CountIdentifiers counts accounts whose identifier contains prefix.
func (c *SchedulingClient) CountIdentifiers(ctx context.Context, prefix string) (int, error) {
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("contains(IDENTIFIER, %s)", odataString(prefix)))
	q.Set("$select", "IDENTIFIER")

	var result struct {
		Value []json.RawMessage `json:"value"`
	}
	if err := c.odata(ctx, "count identifiers", "/Optometrists", q, &result); err != nil {
		return 0, err
	}
	return len(result.Value), nil
}

// HasAppointment reports whether a confirmed appointment for the identity at
// branch starts within [from, to).
func (c *SchedulingClient) HasAppointment(ctx context.Context, identityID int, branch string, from, to time.Time) (bool, error) {
	q := url.Values{}
	q.Set("$filter", strings.Join([]string{
		fmt.Sprintf("OPTOMETRIST_ID eq %d", identityID),
		"BRANCH_IDENTIFIER eq " + odataString(branch),
		"STARTDATETIME ge " + odataTime(from),
		"STARTDATETIME lt " + odataTime(to),
		confirmedFilter,
	}, " and "))
	q.Set("$top", "1")

	var result struct {
		Value []json.RawMessage `json:"value"`
	}
	if err := c.odata(ctx, "check appointments", "/Appointments", q, &result); err != nil {
		return false, err
	}
	return len(result.Value) > 0, nil
}

func (c *SchedulingClient) branchDayFilter(branch string, from, to time.Time) string {
	parts := []string{
		"BRANCH_IDENTIFIER eq " + odataString(branch),
		"STARTDATETIME ge " + odataTime(from),
		"STARTDATETIME lt " + odataTime(to),
	}
	if c.HouseAccountID != 0 {
		parts = append(parts, fmt.Sprintf("OPTOMETRIST_ID ne %d", c.HouseAccountID))
	}
	parts = append(parts, "PATIENT_ID ne -1", confirmedFilter)
	return strings.Join(parts, " and ")
}

// CountAppointments returns the number of confirmed patient appointments at
// branch starting within [from, to).
func (c *SchedulingClient) CountAppointments(ctx context.Context, branch string, from, to time.Time) (int, error) {
	q := url.Values{}
	q.Set("$filter", c.branchDayFilter(branch, from, to))
	q.Set("$count", "true")
	q.Set("$top", "0")
	q.Set("$select", "BRANCH_IDENTIFIER")

	var result struct {
		Count int `json:"@odata.count"`
	}
	if err := c.odata(ctx, "count appointments", "/Appointments", q, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// ListAppointments returns confirmed patient appointments at branch starting
// within [from, to).
func (c *SchedulingClient) ListAppointments(ctx context.Context, branch string, from, to time.Time) ([]Appointment, error) {
	q := url.Values{}
	q.Set("$filter", c.branchDayFilter(branch, from, to))
	q.Set("$select", "ID,OPTOMETRIST_ID,BRANCH_IDENTIFIER,STARTDATETIME,ENDDATETIME")

	var result struct {
		Value []Appointment `json:"value"`
	}
	if err := c.odata(ctx, "list appointments", "/Appointments", q, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// ListAdjustments returns the active availability rows for an identity at
// branch with ADJUST_DATE in [from, to).
func (c *SchedulingClient) ListAdjustments(ctx context.Context, identityID int, branch string, from, to time.Time) ([]AdjustEntry, error) {
	q := url.Values{}
	q.Set("$expand", "AppAdjust")
	q.Set("$filter", strings.Join([]string{
		"AppAdjust/ADJUST_DATE ge " + odataTime(from),
		"AppAdjust/ADJUST_DATE lt " + odataTime(to),
		"AppAdjust/BRANCH_IDENTIFIER eq " + odataString(branch),
		"AppAdjust/INACTIVE eq false",
	}, " and "))

	var result struct {
		AppAdjust []AdjustEntry `json:"AppAdjust"`
	}
	if err := c.odata(ctx, "list adjustments", fmt.Sprintf("/Optometrist(%d)", identityID), q, &result); err != nil {
		return nil, err
	}
	return result.AppAdjust, nil
}
