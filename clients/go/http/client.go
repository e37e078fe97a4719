// Package http provides an HTTP client for the rollout feature flag service.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	rollout "github.com/matt-riley/rollout/clients/go"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the rollout server, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is the bearer token in "id.secret" format.
	APIKey string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements rollout.Evaluator, rollout.FlagManager, rollout.Scheduler
// and rollout.UsageTracker over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var (
	_ rollout.Evaluator    = (*Client)(nil)
	_ rollout.FlagManager  = (*Client)(nil)
	_ rollout.Scheduler    = (*Client)(nil)
	_ rollout.UsageTracker = (*Client)(nil)
)

// NewHTTPClient returns a new HTTP client for the rollout service.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: hc}
}

// -- wire types --------------------------------------------------------------

type wireFlag struct {
	Name                   string              `json:"name"`
	Description            string              `json:"description,omitempty"`
	Enabled                bool                `json:"enabled"`
	RolloutPercentage      int                 `json:"rollout_percentage"`
	UseTargetingRules      bool                `json:"use_targeting_rules"`
	RuleGroups             []rollout.RuleGroup `json:"rule_groups"`
	UseTimeBasedActivation bool                `json:"use_time_based_activation"`
	StartTime              *time.Time          `json:"start_time,omitempty"`
	EndTime                *time.Time          `json:"end_time,omitempty"`
	Duration               string              `json:"duration,omitempty"`
	TimeZone               string              `json:"time_zone,omitempty"`
	UpdatedAt              *time.Time          `json:"updated_at,omitempty"`
}

type wireEvalItem struct {
	Flag       string         `json:"flag"`
	UserID     string         `json:"user_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
	TrackUsage bool           `json:"track_usage"`
}

type wireBatchReq struct {
	Requests []wireEvalItem `json:"requests"`
}

type wireEvaluateResp struct {
	Results []struct {
		Flag    string `json:"flag"`
		Enabled bool   `json:"enabled"`
		Reason  string `json:"reason"`
	} `json:"results"`
}

type wireScheduledChange struct {
	FlagName   string    `json:"flag_name"`
	ChangeTime time.Time `json:"change_time"`
	ChangeType string    `json:"change_type"`
	TimeZone   string    `json:"time_zone"`
}

// -- helpers -----------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("rollout: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("rollout: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rollout: http: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, newAPIError(resp.StatusCode, msg)
	}
	return resp, nil
}

// call sends a request and decodes the JSON response into out. A nil out
// discards the body.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rollout: decode response: %w", err)
	}
	return nil
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rollout: HTTP %d: %s", e.StatusCode, e.Message)
}

// newAPIError prefers the server's {"error": "..."} message and falls back to
// the raw body.
func newAPIError(statusCode int, body []byte) *APIError {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return &APIError{StatusCode: statusCode, Message: payload.Error}
	}
	return &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
}

func flagPath(name string, suffix string) string {
	return "/v1/flags/" + url.PathEscape(name) + suffix
}

func decodeFlag(wf wireFlag) (rollout.Flag, error) {
	f := rollout.Flag{
		Name:                   wf.Name,
		Description:            wf.Description,
		Enabled:                wf.Enabled,
		RolloutPercentage:      wf.RolloutPercentage,
		UseTargetingRules:      wf.UseTargetingRules,
		RuleGroups:             wf.RuleGroups,
		UseTimeBasedActivation: wf.UseTimeBasedActivation,
		StartTime:              wf.StartTime,
		EndTime:                wf.EndTime,
		TimeZone:               wf.TimeZone,
	}
	if wf.UpdatedAt != nil {
		f.UpdatedAt = *wf.UpdatedAt
	}
	if wf.Duration != "" {
		d, err := time.ParseDuration(wf.Duration)
		if err != nil {
			return f, fmt.Errorf("rollout: decode duration: %w", err)
		}
		f.Duration = &d
	}
	return f, nil
}

func encodeFlag(f rollout.Flag) wireFlag {
	wf := wireFlag{
		Name:                   f.Name,
		Description:            f.Description,
		Enabled:                f.Enabled,
		RolloutPercentage:      f.RolloutPercentage,
		UseTargetingRules:      f.UseTargetingRules,
		RuleGroups:             f.RuleGroups,
		UseTimeBasedActivation: f.UseTimeBasedActivation,
		StartTime:              f.StartTime,
		EndTime:                f.EndTime,
		TimeZone:               f.TimeZone,
	}
	if wf.RuleGroups == nil {
		wf.RuleGroups = []rollout.RuleGroup{}
	}
	if f.Duration != nil {
		wf.Duration = f.Duration.String()
	}
	return wf
}

func (c *Client) flagCall(ctx context.Context, method, path string, body any) (rollout.Flag, error) {
	var out wireFlag
	if err := c.call(ctx, method, path, body, &out); err != nil {
		return rollout.Flag{}, err
	}
	return decodeFlag(out)
}

// -- Evaluator ---------------------------------------------------------------

// Evaluate returns defaultValue alongside any error.
func (c *Client) Evaluate(ctx context.Context, name string, evalCtx rollout.EvaluationContext, defaultValue bool) (bool, error) {
	body := wireEvalItem{
		Flag:       name,
		UserID:     evalCtx.UserID,
		Attributes: evalCtx.Attributes,
		TrackUsage: true,
	}
	var out wireEvaluateResp
	if err := c.call(ctx, http.MethodPost, "/v1/evaluate", body, &out); err != nil {
		return defaultValue, err
	}
	if len(out.Results) != 1 {
		return defaultValue, fmt.Errorf("rollout: expected 1 result, got %d", len(out.Results))
	}
	return out.Results[0].Enabled, nil
}

func (c *Client) EvaluateBatch(ctx context.Context, reqs []rollout.EvaluateRequest) ([]rollout.EvaluateResult, error) {
	if len(reqs) == 0 {
		return []rollout.EvaluateResult{}, nil
	}
	items := make([]wireEvalItem, len(reqs))
	for i, r := range reqs {
		items[i] = wireEvalItem{
			Flag:       r.Flag,
			UserID:     r.Context.UserID,
			Attributes: r.Context.Attributes,
			TrackUsage: !r.SkipUsage,
		}
	}
	var out wireEvaluateResp
	if err := c.call(ctx, http.MethodPost, "/v1/evaluate", wireBatchReq{Requests: items}, &out); err != nil {
		return nil, err
	}
	results := make([]rollout.EvaluateResult, len(out.Results))
	for i, r := range out.Results {
		results[i] = rollout.EvaluateResult{Flag: r.Flag, Enabled: r.Enabled, Reason: r.Reason}
	}
	return results, nil
}

func (c *Client) EvaluateAll(ctx context.Context, evalCtx rollout.EvaluationContext) (map[string]bool, error) {
	body := map[string]any{"user_id": evalCtx.UserID}
	if len(evalCtx.Attributes) > 0 {
		body["attributes"] = evalCtx.Attributes
	}
	var out struct {
		Flags map[string]bool `json:"flags"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/evaluate/all", body, &out); err != nil {
		return nil, err
	}
	if out.Flags == nil {
		out.Flags = map[string]bool{}
	}
	return out.Flags, nil
}

// -- FlagManager -------------------------------------------------------------

func (c *Client) GetFlag(ctx context.Context, name string) (rollout.Flag, error) {
	return c.flagCall(ctx, http.MethodGet, flagPath(name, ""), nil)
}

func (c *Client) ListFlags(ctx context.Context) ([]rollout.Flag, error) {
	var out []wireFlag
	if err := c.call(ctx, http.MethodGet, "/v1/flags", nil, &out); err != nil {
		return nil, err
	}
	flags := make([]rollout.Flag, 0, len(out))
	for _, wf := range out {
		f, err := decodeFlag(wf)
		if err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	return flags, nil
}

// SaveFlag creates or replaces the flag named flag.Name.
func (c *Client) SaveFlag(ctx context.Context, flag rollout.Flag) (rollout.Flag, error) {
	return c.flagCall(ctx, http.MethodPut, flagPath(flag.Name, ""), encodeFlag(flag))
}

func (c *Client) DeleteFlag(ctx context.Context, name string) error {
	return c.call(ctx, http.MethodDelete, flagPath(name, ""), nil, nil)
}

// -- Scheduler ---------------------------------------------------------------

// ScheduleActivation sends Start as a wall clock; its own location is ignored.
func (c *Client) ScheduleActivation(ctx context.Context, name string, activation rollout.Activation) (rollout.Flag, error) {
	body := map[string]string{"start_time": activation.Start.Format(rollout.WallClockLayout)}
	if activation.Duration != 0 {
		body["duration"] = activation.Duration.String()
	}
	if activation.TimeZone != "" {
		body["time_zone"] = activation.TimeZone
	}
	return c.flagCall(ctx, http.MethodPost, flagPath(name, "/schedule/activation"), body)
}

func (c *Client) ScheduleTemporaryActivation(ctx context.Context, name string, duration time.Duration) (rollout.Flag, error) {
	body := map[string]string{"duration": duration.String()}
	return c.flagCall(ctx, http.MethodPost, flagPath(name, "/schedule/temporary"), body)
}

// ScheduleDeactivation sends end as a UTC wall clock.
func (c *Client) ScheduleDeactivation(ctx context.Context, name string, end time.Time) (rollout.Flag, error) {
	body := map[string]string{"end_time": end.UTC().Format(rollout.WallClockLayout)}
	return c.flagCall(ctx, http.MethodPost, flagPath(name, "/schedule/deactivation"), body)
}

func (c *Client) RemoveScheduling(ctx context.Context, name string) (rollout.Flag, error) {
	return c.flagCall(ctx, http.MethodDelete, flagPath(name, "/schedule"), nil)
}

func (c *Client) UpcomingChanges(ctx context.Context, withinHours int) ([]rollout.ScheduledChange, error) {
	path := "/v1/schedule/upcoming?within_hours=" + strconv.Itoa(withinHours)
	var out struct {
		Changes []wireScheduledChange `json:"changes"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	changes := make([]rollout.ScheduledChange, len(out.Changes))
	for i, ch := range out.Changes {
		changes[i] = rollout.ScheduledChange{
			FlagName:   ch.FlagName,
			ChangeTime: ch.ChangeTime,
			ChangeType: ch.ChangeType,
			TimeZone:   ch.TimeZone,
		}
	}
	return changes, nil
}

// -- UsageTracker ------------------------------------------------------------

func (c *Client) TrackUsage(ctx context.Context, name, userID string, additionalData map[string]string) error {
	body := struct {
		Flag           string            `json:"flag"`
		UserID         string            `json:"user_id"`
		AdditionalData map[string]string `json:"additional_data,omitempty"`
	}{Flag: name, UserID: userID, AdditionalData: additionalData}
	return c.call(ctx, http.MethodPost, "/v1/usage", body, nil)
}

func (c *Client) UsageCounts(ctx context.Context, name string) (rollout.UsageCounts, error) {
	var out struct {
		Flag        string `json:"flag"`
		UniqueUsers int64  `json:"unique_users"`
		Total       int64  `json:"total"`
	}
	if err := c.call(ctx, http.MethodGet, flagPath(name, "/usage"), nil, &out); err != nil {
		return rollout.UsageCounts{}, err
	}
	return rollout.UsageCounts{Flag: out.Flag, UniqueUsers: out.UniqueUsers, Total: out.Total}, nil
}
