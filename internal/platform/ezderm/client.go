// Package ezderm is a thin, typed client for the EZDerm EMR web service.
// Every operation returns either a decoded result or a classified *APIError;
// the client never retries Transient failures itself.
package ezderm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 30 * time.Second
	restPrefix     = "ezderm-webservice/rest"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithTimeout sets the per-call timeout. On timeout the call is classified
// as Transient.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.httpClient.Timeout = d }
}

// Client wraps the EZDerm login and application APIs.
type Client struct {
	loginURL   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a Client against the given login server.
func NewClient(loginURL string, logger zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		loginURL:   strings.TrimRight(loginURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With().Str("component", "ezderm").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Unauthenticated operations (used by the token lifecycle manager)
// ---------------------------------------------------------------------------

// Login authenticates with username/password and returns a fresh token pair
// plus the application server the session is pinned to.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	body := LoginRequest{
		Username:    username,
		Password:    password,
		Application: "EZDERM",
		TimeZoneID:  "America/New_York",
	}
	var out LoginResponse
	if err := c.doJSON(ctx, "login", http.MethodPost, c.loginURL+"/api/v1/login", "", nil, body, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" || out.AppServerURL() == "" {
		return nil, &APIError{Kind: KindFatal, Op: "login", Message: "login response missing token or server url"}
	}
	return &out, nil
}

// RefreshToken exchanges a refresh token for a new token pair. A rejected
// refresh token comes back as Unauthorized; callers fall back to Login.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*LoginResponse, error) {
	var out LoginResponse
	err := c.doJSON(ctx, "refreshToken", http.MethodPost, c.loginURL+"/api/v1/refreshToken", "",
		nil, RefreshRequest{RefreshToken: refreshToken}, &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &APIError{Kind: KindFatal, Op: "refreshToken", Message: "refresh response missing token"}
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Authenticated operations
// ---------------------------------------------------------------------------

// ListEncounters returns encounters matching the filter, in upstream order.
func (c *Client) ListEncounters(ctx context.Context, ts TokenSource, filter EncounterFilter) ([]Encounter, error) {
	var out []Encounter
	err := c.doAuth(ctx, ts, "listEncounters", http.MethodPost,
		restPrefix+"/encounter/getByFilter", nil, filter, &out)
	return out, err
}

// GetHistoricalEncounters returns the patient's past encounters, newest
// first, excluding the given encounter.
func (c *Client) GetHistoricalEncounters(ctx context.Context, ts TokenSource, patientID, excludeEncounterID string) ([]Encounter, error) {
	filter := EncounterFilter{
		DateOfServiceRangeLow:  time.Now().AddDate(-5, 0, 0),
		DateOfServiceRangeHigh: time.Now(),
		PatientID:              patientID,
		LightBean:              true,
	}
	var out []Encounter
	err := c.doAuth(ctx, ts, "getHistoricalEncounters", http.MethodPost,
		restPrefix+"/encounter/getByFilter", scopeHeaders(patientID, ""), filter, &out)
	if err != nil {
		return nil, err
	}
	filtered := out[:0]
	for _, enc := range out {
		if enc.ID != excludeEncounterID {
			filtered = append(filtered, enc)
		}
	}
	// Upstream order is not guaranteed; callers rely on newest-first.
	sortEncountersNewestFirst(filtered)
	return filtered, nil
}

// GetProgressNote fetches the clinical note for an encounter.
func (c *Client) GetProgressNote(ctx context.Context, ts TokenSource, patientID, encounterID string) (*ProgressNote, error) {
	var out ProgressNote
	err := c.doAuth(ctx, ts, "getProgressNote", http.MethodGet,
		restPrefix+"/progressnote/getProgressNote/"+encounterID,
		scopeHeaders(patientID, encounterID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProgressNote writes a section of the clinical note.
func (c *Client) UpdateProgressNote(ctx context.Context, ts TokenSource, update NoteUpdate) error {
	return c.doAuth(ctx, ts, "updateProgressNote", http.MethodPut,
		restPrefix+"/progressnote/update",
		scopeHeaders(update.PatientID, update.EncounterID), update, nil)
}

// GetVitalSigns fetches the vital-signs set for an encounter.
func (c *Client) GetVitalSigns(ctx context.Context, ts TokenSource, patientID, encounterID string) (*VitalSigns, error) {
	var out VitalSigns
	err := c.doAuth(ctx, ts, "getVitalSigns", http.MethodGet,
		restPrefix+"/vitalsigns/getVitalSigns/"+encounterID,
		scopeHeaders(patientID, encounterID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateVitalSigns writes the vital-signs set for an encounter.
func (c *Client) UpdateVitalSigns(ctx context.Context, ts TokenSource, vs VitalSigns) error {
	return c.doAuth(ctx, ts, "updateVitalSigns", http.MethodPut,
		restPrefix+"/vitalsigns/update",
		scopeHeaders(vs.PatientID, vs.EncounterID), vs, nil)
}

// CreateTask files a ToDo against a patient/encounter and returns its id.
func (c *Client) CreateTask(ctx context.Context, ts TokenSource, req CreateTaskRequest) (*CreateTaskResponse, error) {
	var out CreateTaskResponse
	err := c.doAuth(ctx, ts, "createTask", http.MethodPost,
		restPrefix+"/todo/create",
		scopeHeaders(req.PatientID, req.EncounterID), req, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// scopeHeaders builds the patient/encounter scoping headers required by the
// application API.
func scopeHeaders(patientID, encounterID string) map[string]string {
	h := map[string]string{}
	if patientID != "" {
		h["patientid"] = patientID
	}
	if encounterID != "" {
		h["encounterid"] = encounterID
	}
	return h
}

// doAuth performs an authenticated call against the session's application
// server. On Unauthorized it refreshes the session through the TokenSource
// and retries exactly once; a second rejection is surfaced to the caller.
func (c *Client) doAuth(ctx context.Context, ts TokenSource, op, method, path string, headers map[string]string, in, out interface{}) error {
	sess, err := ts.Session(ctx)
	if err != nil {
		return fmt.Errorf("%s: acquire session: %w", op, err)
	}

	err = c.doJSON(ctx, op, method, joinURL(sess.ServerURL, path), sess.AccessToken, headers, in, out)
	if !IsUnauthorized(err) {
		return err
	}

	c.logger.Warn().Str("op", op).Msg("token rejected, refreshing once")
	sess, rerr := ts.Refresh(ctx)
	if rerr != nil {
		return fmt.Errorf("%s: refresh session: %w", op, rerr)
	}
	return c.doJSON(ctx, op, method, joinURL(sess.ServerURL, path), sess.AccessToken, headers, in, out)
}

// doJSON performs one HTTP round trip with JSON encoding on both sides.
func (c *Client) doJSON(ctx context.Context, op, method, url, bearer string, headers map[string]string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return &APIError{Kind: KindFatal, Op: op, Message: "encode request", Err: err}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return &APIError{Kind: KindFatal, Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable by the caller.
		return &APIError{Kind: KindTransient, Op: op, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("upstream call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{
			Kind:       classifyStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Kind: KindFatal, Op: op, Message: "decode response", Err: err}
	}
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func sortEncountersNewestFirst(encs []Encounter) {
	sort.Slice(encs, func(i, j int) bool {
		return encs[i].DateOfService.After(encs[j].DateOfService)
	})
}
