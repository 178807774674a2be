// Package platform provides the client for the external game-platform web
// API: the sequential match-history endpoint the scanner walks, the
// match-details endpoint used by the repair path, and the recent-history
// endpoint used to bootstrap a cursor.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/matchforge-io/matchforge/internal/config"
	"github.com/matchforge-io/matchforge/internal/match"
)

// PageSize is the maximum number of matches one sequence page returns.
const PageSize = 100

// statusSequenceGap is the in-body status the platform uses to signal a
// permanent hole in the sequence. Everything else non-OK is transient.
const (
	statusOK          = 1
	statusSequenceGap = 2
)

// Sentinel errors for upstream calls.
var (
	// ErrSequenceGap marks a permanent gap in the match sequence. The
	// scanner advances past it; retrying the same cursor will never succeed.
	ErrSequenceGap = errors.New("permanent gap in match sequence")

	// ErrUpstream wraps transient upstream failures (transport errors, 5xx,
	// rate limits). Callers retry the same request after backoff.
	ErrUpstream = errors.New("upstream request failed")

	// ErrMatchNotFound is returned by MatchDetails for unknown or private
	// matches. Non-retryable.
	ErrMatchNotFound = errors.New("match not found")

	// ErrNoAPIHosts is returned when the client is constructed without any
	// upstream host.
	ErrNoAPIHosts = errors.New("no API hosts configured")
)

// ClientConfig holds upstream API client configuration.
type ClientConfig struct {
	// Hosts are the upstream API base URLs. Multiple hosts spread the
	// request budget; the scanner divides its catch-up interval across them.
	Hosts []string

	// Key is the API key sent with every request.
	Key string

	// Timeout bounds every request.
	Timeout time.Duration
}

// LoadClientConfig loads upstream API configuration from environment
// variables with fallback to defaults.
func LoadClientConfig() *ClientConfig {
	return &ClientConfig{
		Hosts:   config.ParseCommaSeparatedList(config.GetEnvStr("API_HOSTS", "https://api.steampowered.com")),
		Key:     config.GetEnvStr("API_KEY", ""),
		Timeout: config.GetEnvDuration("API_TIMEOUT", 10*time.Second),
	}
}

// Client calls the game-platform web API.
type Client struct {
	hosts  []string
	key    string
	client *http.Client
}

// NewClient creates an upstream API client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if len(cfg.Hosts) == 0 {
		return nil, ErrNoAPIHosts
	}

	return &Client{
		hosts:  cfg.Hosts,
		key:    cfg.Key,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// HostCount returns the number of configured upstream hosts.
func (c *Client) HostCount() int {
	return len(c.hosts)
}

// sequenceEnvelope wraps list-shaped responses (sequence pages, history).
type sequenceEnvelope struct {
	Result struct {
		Status  int           `json:"status"`
		Matches []match.Match `json:"matches"`
	} `json:"result"`
}

// detailsEnvelope wraps the single-match details response, whose result is
// the match object itself plus an optional error string.
type detailsEnvelope struct {
	Result struct {
		match.Match

		Error string `json:"error"`
	} `json:"result"`
}

// get performs one bounded API request against a random host and returns the
// raw response body.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	host := c.hosts[rand.Intn(len(c.hosts))]

	if c.key != "" {
		params.Set("key", c.key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	return body, nil
}

// MatchesBySeqNum fetches one page of matches starting at startSeq,
// ascending by sequence number. Returns ErrSequenceGap when the platform
// reports a permanent hole at that position.
func (c *Client) MatchesBySeqNum(ctx context.Context, startSeq int64) ([]match.Match, error) {
	params := url.Values{}
	params.Set("start_at_match_seq_num", strconv.FormatInt(startSeq, 10))
	params.Set("matches_requested", strconv.Itoa(PageSize))

	body, err := c.get(ctx, "/IDOTA2Match_570/GetMatchHistoryBySequenceNum/v1/", params)
	if err != nil {
		return nil, err
	}

	var env sequenceEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	switch env.Result.Status {
	case statusOK:
		return env.Result.Matches, nil
	case statusSequenceGap:
		return nil, ErrSequenceGap
	default:
		return nil, fmt.Errorf("%w: result status %d", ErrUpstream, env.Result.Status)
	}
}

// MatchDetails fetches a single match by id. Used by the assembler's repair
// path when the column store has lost a match's player rows.
func (c *Client) MatchDetails(ctx context.Context, matchID int64) (*match.Match, error) {
	params := url.Values{}
	params.Set("match_id", strconv.FormatInt(matchID, 10))

	body, err := c.get(ctx, "/IDOTA2Match_570/GetMatchDetails/v1/", params)
	if err != nil {
		return nil, err
	}

	var env detailsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if env.Result.Error != "" || env.Result.MatchID == 0 {
		return nil, ErrMatchNotFound
	}

	m := env.Result.Match

	return &m, nil
}

// LatestSeqNum returns the sequence number of the most recently played match,
// used to bootstrap a cursor in non-production environments.
func (c *Client) LatestSeqNum(ctx context.Context) (int64, error) {
	params := url.Values{}
	params.Set("matches_requested", "1")

	body, err := c.get(ctx, "/IDOTA2Match_570/GetMatchHistory/v1/", params)
	if err != nil {
		return 0, err
	}

	var env sequenceEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if env.Result.Status != statusOK || len(env.Result.Matches) == 0 {
		return 0, fmt.Errorf("%w: empty match history", ErrUpstream)
	}

	return env.Result.Matches[0].SeqNum, nil
}
