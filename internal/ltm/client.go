// Package ltm implements the membership fetcher: a client for the external
// load-balancer control API (treated as an opaque token-authenticated REST
// service per spec.md §1) and the periodic reconciliation loop that keeps
// each pool's member set in sync with it.
package ltm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config is the subset of poolconfig.F5Config the client needs, kept
// decoupled from that package so ltm has no import-cycle risk.
type Config struct {
	Host        string
	Port        int
	Username    string
	Password    string
	RefreshSlop time.Duration
	// RateLimitPerSecond caps outbound LTM API calls across all pools, so a
	// misconfigured pool_fetch_interval cannot hammer the control API.
	// Defaults to 10 req/s when zero.
	RateLimitPerSecond float64
}

// token mirrors the F5 iControl REST token envelope: a value, a name used
// to address it for extension/deletion, and an expiration.
type token struct {
	value     string
	name      string
	expiresAt time.Time
}

// ErrUnauthorized is returned once the retry-once-on-401 policy has been
// exhausted.
var ErrUnauthorized = fmt.Errorf("ltm: unauthorized after re-login retry")

// Client talks to the LTM control API. One Client is shared across all
// configured pools; the token it holds authenticates every pool's fetch.
type Client struct {
	cfg     Config
	http    *http.Client
	baseURL string
	logger  zerolog.Logger
	limiter *rate.Limiter

	mu  sync.Mutex
	tok *token
}

// New builds a Client. The LTM API historically runs self-signed TLS, so
// certificate verification is disabled, matching the source client's
// behavior.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.RefreshSlop <= 0 {
		cfg.RefreshSlop = 60 * time.Second
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = 10
	}
	transport := &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec // LTM control planes commonly present self-signed certs
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second, Transport: transport},
		baseURL: fmt.Sprintf("https://%s:%d/mgmt", cfg.Host, cfg.Port),
		logger:  logger.With().Str("component", "ltm").Logger(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), int(cfg.RateLimitPerSecond)+1),
	}
}

type loginRequest struct {
	Username          string `json:"username"`
	Password          string `json:"password"`
	LoginProviderName string `json:"loginProviderName"`
}

type loginResponse struct {
	Token struct {
		Token   string `json:"token"`
		Name    string `json:"name"`
		Timeout int    `json:"timeout"`
	} `json:"token"`
}

// login authenticates and returns the resulting token; the caller stores
// it. Called under mu.
func (c *Client) login(ctx context.Context) (*token, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ltm login: rate limit wait: %w", err)
	}
	body, _ := json.Marshal(loginRequest{Username: c.cfg.Username, Password: c.cfg.Password, LoginProviderName: "tmos"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shared/authn/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ltm login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ltm login: http %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("ltm login: decoding response: %w", err)
	}
	if lr.Token.Token == "" {
		return nil, fmt.Errorf("ltm login: no token in response")
	}
	timeout := lr.Token.Timeout
	if timeout <= 0 {
		timeout = 1200
	}
	tok := &token{value: lr.Token.Token, name: lr.Token.Name, expiresAt: time.Now().Add(time.Duration(timeout) * time.Second)}
	c.extendTimeout(ctx, tok)
	c.logger.Info().Str("token", tok.name).Msg("obtained new LTM token")
	return tok, nil
}

// extendTimeout pushes the token's server-side lifetime out, best-effort.
func (c *Client) extendTimeout(ctx context.Context, tok *token) {
	body, _ := json.Marshal(map[string]string{"timeout": "36000"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/shared/authz/tokens/"+tok.name, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-F5-Auth-Token", tok.value)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("extending LTM token timeout")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		tok.expiresAt = time.Now().Add(36000 * time.Second)
	}
}

// DeleteToken best-effort revokes the currently held token, called on
// shutdown per spec.md §5.
func (c *Client) DeleteToken(ctx context.Context) {
	c.mu.Lock()
	tok := c.tok
	c.tok = nil
	c.mu.Unlock()
	if tok == nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/shared/authz/tokens/"+tok.name, nil)
	if err != nil {
		return
	}
	req.Header.Set("X-F5-Auth-Token", tok.value)
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("deleting LTM token on shutdown")
		return
	}
	defer resp.Body.Close()
}

// ensureToken returns a token valid for at least RefreshSlop longer,
// re-logging in when missing or near expiry.
func (c *Client) ensureToken(ctx context.Context) (*token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tok != nil && time.Now().Add(c.cfg.RefreshSlop).Before(c.tok.expiresAt) {
		return c.tok, nil
	}
	tok, err := c.login(ctx)
	if err != nil {
		return nil, err
	}
	c.tok = tok
	return tok, nil
}

// dropToken clears the cached token, forcing the next ensureToken call to
// re-login.
func (c *Client) dropToken() {
	c.mu.Lock()
	c.tok = nil
	c.mu.Unlock()
}

// Member is one pool member as reported by the LTM control API.
type Member struct {
	IP   string
	Port int
}

type poolMembersResponse struct {
	Items []struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"items"`
}

// GetPoolMembers fetches the current membership of one pool, authenticating
// and retrying exactly once on a 401 per spec.md §4.1.
func (c *Client) GetPoolMembers(ctx context.Context, partition, name string) ([]Member, error) {
	tok, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	members, status, err := c.fetchMembers(ctx, tok, partition, name)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.dropToken()
		tok, err = c.ensureToken(ctx)
		if err != nil {
			return nil, err
		}
		members, status, err = c.fetchMembers(ctx, tok, partition, name)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("ltm: get pool members: http %d", status)
	}
	return members, nil
}

func (c *Client) fetchMembers(ctx context.Context, tok *token, partition, name string) ([]Member, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("ltm: fetching pool members: rate limit wait: %w", err)
	}
	url := fmt.Sprintf("%s/tm/ltm/pool/~%s~%s/members", c.baseURL, partition, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("X-F5-Auth-Token", tok.value)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("ltm: fetching pool members: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	var body poolMembersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, 0, fmt.Errorf("ltm: decoding pool members: %w", err)
	}

	members := make([]Member, 0, len(body.Items))
	for _, item := range body.Items {
		if item.Address == "" {
			continue
		}
		port := portFromName(item.Name)
		if port == 0 {
			continue
		}
		members = append(members, Member{IP: item.Address, Port: port})
	}
	return members, http.StatusOK, nil
}

// portFromName extracts the trailing ":port" segment from an F5 member
// name, which is of the form "ip:port".
func portFromName(name string) int {
	idx := strings.LastIndex(name, ":")
	if idx < 0 {
		return 0
	}
	port, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return 0
	}
	return port
}
