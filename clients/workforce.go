package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/roster-sync/utils"
)

// WorkforceShift is a published shift as returned by the workforce API.
// Times are branch-local wall clock without an offset.
type WorkforceShift struct {
	ID           int64            `json:"id"`
	EmployeeID   int64            `json:"employeeId"`
	EmployeeName string           `json:"employeeName"`
	LocationID   int              `json:"locationId"`
	LocationName string           `json:"locationName"`
	StartTime    string           `json:"startTime"`
	EndTime      string           `json:"endTime"`
	WorkTypeID   *int             `json:"workTypeId"`
	Breaks       []WorkforceBreak `json:"breaks"`
}

type WorkforceBreak struct {
	ID          int64  `json:"id"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	IsPaidBreak bool   `json:"isPaidBreak"`
}

// Employee is the identity part of an employee record.
type Employee struct {
	FirstName string `json:"firstName"`
	Surname   string `json:"surname"`
	Email     string `json:"emailAddress"`
}

// WorkforceClient talks to the workforce roster API.
type WorkforceClient struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Timer drives the waits between retries; nil uses a real timer.
	Timer backoff.Timer
}

func NewWorkforceClient(baseURL, secret string) *WorkforceClient {
	return &WorkforceClient{
		BaseURL: baseURL,
		Secret:  secret,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   8 * time.Second,
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *WorkforceClient) configured() error {
	if c.BaseURL == "" || c.Secret == "" {
		return fmt.Errorf("workforce: %w", ErrNotConfigured)
	}
	return nil
}

func (c *WorkforceClient) get(ctx context.Context, op, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.Secret, "")
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

// ListShifts returns published shifts in [from, to] for the given locations.
func (c *WorkforceClient) ListShifts(ctx context.Context, from, to time.Time, locationIDs []int) ([]WorkforceShift, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("filter.SelectAllRoles", "true")
	q.Set("filter.ShiftStatuses", "published")
	q.Set("filter.fromDate", from.Format(utils.DateLayout))
	q.Set("filter.toDate", to.Format(utils.DateLayout))
	for _, id := range locationIDs {
		q.Add("filter.selectedLocations", strconv.Itoa(id))
	}

	var shifts []WorkforceShift
	if err := c.get(ctx, "list shifts", c.BaseURL+"/rostershift?"+q.Encode(), &shifts); err != nil {
		return nil, err
	}
	return shifts, nil
}

// GetEmployee fetches one employee. Rate limiting, network failures and
// server errors are retried with capped exponential backoff.
func (c *WorkforceClient) GetEmployee(ctx context.Context, id int64) (*Employee, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid employee id %d", id)
	}
	if err := c.configured(); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/employee/unstructured/%d", c.BaseURL, id)
	var emp Employee
	op := func() error {
		err := c.get(ctx, "get employee", endpoint, &emp)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	attempt := 0
	notify := func(err error, delay time.Duration) {
		attempt++
		utils.InfoLogger.WithError(err).WithFields(logrus.Fields{
			"employee_id": id,
			"attempt":     attempt,
			"delay":       delay,
		}).Warn("workforce employee lookup retrying")
	}

	err := backoff.RetryNotifyWithTimer(op, c.retryPolicy(ctx), notify, c.Timer)
	if err == nil {
		return &emp, nil
	}
	if !retryable(err) {
		return nil, err
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
		return nil, fmt.Errorf("get employee %d: %w: %v", id, ErrRateLimited, err)
	}
	return nil, fmt.Errorf("get employee %d after %d retries: %w", id, c.MaxRetries, err)
}

// retryPolicy doubles the wait from BaseDelay up to MaxDelay, without jitter,
// for at most MaxRetries retries.
func (c *WorkforceClient) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	if c.MaxDelay > 0 {
		exp.MaxInterval = c.MaxDelay
	}
	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// transport failure, the request never got an answer
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
