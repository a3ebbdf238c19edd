// Package bsky is a minimal XRPC client for the AT Protocol endpoints vxsky
// needs: session management, handle resolution, and post hydration.
package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vxsky/internal/logging"
	"vxsky/internal/metrics"
)

var (
	// ErrNoPost is returned when the API call succeeds but carries no post.
	ErrNoPost = errors.New("bsky: no post in response")
	// ErrNotAuthenticated is returned for authed calls before Login.
	ErrNotAuthenticated = errors.New("bsky: client is not authenticated")
)

// XRPCError is the structured error body XRPC endpoints return.
type XRPCError struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *XRPCError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bsky: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("bsky: %s (status %d)", e.Code, e.StatusCode)
}

// Client talks XRPC to a single AT Protocol PDS. It holds the session
// tokens and is safe for concurrent use by request handlers; an expired
// access token is refreshed once and the failed call retried.
type Client struct {
	serviceURL string
	httpClient *http.Client

	sessionMu  sync.RWMutex
	accessJwt  string
	refreshJwt string
	did        string
	handle     string
}

// NewClient creates a client for the given PDS base URL
// (e.g. "https://bsky.social").
func NewClient(serviceURL string) *Client {
	return &Client{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Login creates a session with an identifier (handle or email) and an app
// password. It must succeed before authed calls are made.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	var session sessionResponse
	err := c.do(ctx, http.MethodPost, "com.atproto.server.createSession", nil, map[string]string{
		"identifier": identifier,
		"password":   password,
	}, &session, false)
	if err != nil {
		return fmt.Errorf("bsky: login failed: %w", err)
	}

	c.sessionMu.Lock()
	c.accessJwt = session.AccessJwt
	c.refreshJwt = session.RefreshJwt
	c.did = session.DID
	c.handle = session.Handle
	c.sessionMu.Unlock()

	logging.L().Info("authenticated with PDS",
		zap.String("service", c.serviceURL),
		zap.String("handle", session.Handle),
		zap.String("did", session.DID),
	)
	return nil
}

// DID returns the DID of the logged-in session, if any.
func (c *Client) DID() string {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.did
}

// ResolveHandle resolves a handle (or passes a DID through) to a DID.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	if strings.HasPrefix(handle, "did:") {
		return handle, nil
	}

	params := url.Values{}
	params.Set("handle", handle)

	var resp resolveHandleResponse
	if err := c.do(ctx, http.MethodGet, "com.atproto.identity.resolveHandle", params, nil, &resp, false); err != nil {
		return "", err
	}
	return resp.DID, nil
}

// GetPost fetches a single hydrated post by AT URI.
func (c *Client) GetPost(ctx context.Context, uri string) (*PostView, error) {
	params := url.Values{}
	params.Add("uris", uri)

	var resp getPostsResponse
	if err := c.do(ctx, http.MethodGet, "app.bsky.feed.getPosts", params, nil, &resp, true); err != nil {
		return nil, err
	}
	if len(resp.Posts) == 0 {
		return nil, ErrNoPost
	}
	return &resp.Posts[0], nil
}

// refreshSession swaps the refresh token for a fresh access token.
func (c *Client) refreshSession(ctx context.Context) error {
	c.sessionMu.RLock()
	refreshJwt := c.refreshJwt
	c.sessionMu.RUnlock()

	if refreshJwt == "" {
		return ErrNotAuthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.xrpcURL("com.atproto.server.refreshSession", nil), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+refreshJwt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeXRPCError(resp)
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("bsky: decoding refreshed session: %w", err)
	}

	c.sessionMu.Lock()
	c.accessJwt = session.AccessJwt
	if session.RefreshJwt != "" {
		c.refreshJwt = session.RefreshJwt
	}
	c.sessionMu.Unlock()

	logging.L().Info("session refreshed", zap.String("handle", session.Handle))
	return nil
}

// do performs one XRPC call, refreshing the session once on ExpiredToken.
func (c *Client) do(ctx context.Context, method, nsid string, params url.Values, body, out interface{}, authed bool) error {
	err := c.doOnce(ctx, method, nsid, params, body, out, authed)

	var xrpcErr *XRPCError
	if authed && errors.As(err, &xrpcErr) && xrpcErr.Code == "ExpiredToken" {
		logging.L().Debug("access token expired, refreshing", zap.String("nsid", nsid))
		if refreshErr := c.refreshSession(ctx); refreshErr != nil {
			return fmt.Errorf("bsky: session refresh after expiry: %w", refreshErr)
		}
		err = c.doOnce(ctx, method, nsid, params, body, out, authed)
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, method, nsid string, params url.Values, body, out interface{}, authed bool) error {
	start := time.Now()

	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.xrpcURL(nsid, params), reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.sessionMu.RLock()
		accessJwt := c.accessJwt
		c.sessionMu.RUnlock()
		if accessJwt == "" {
			return ErrNotAuthenticated
		}
		req.Header.Set("Authorization", "Bearer "+accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.Get().RecordAPIRequest(nsid, "transport_error", time.Since(start))
		return fmt.Errorf("bsky: %s: %w", nsid, err)
	}
	defer resp.Body.Close()

	metrics.Get().RecordAPIRequest(nsid, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeXRPCError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("bsky: decoding %s response: %w", nsid, err)
		}
	}
	return nil
}

func (c *Client) xrpcURL(nsid string, params url.Values) string {
	u := c.serviceURL + "/xrpc/" + nsid
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func decodeXRPCError(resp *http.Response) error {
	xrpcErr := &XRPCError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(xrpcErr); err != nil || xrpcErr.Code == "" {
		xrpcErr.Code = "UnknownError"
	}
	return xrpcErr
}
