// Package callsdk is the entry point for applications: it authenticates
// against the dialer API, resolves the current user and hands out the live
// call session bound to that user's realtime channel.
package callsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"dialer-realtime/pkg/callevents"
	"dialer-realtime/pkg/callsession"
	"dialer-realtime/pkg/realtime"
	"dialer-realtime/pkg/restapi"
)

var (
	ErrDestroyed = errors.New("callsdk: client destroyed")
	ErrNoUser    = errors.New("callsdk: api returned no current user")
)

type Options struct {
	Host      string
	Namespace string
	AuthToken string
	// Transport builds the realtime bus client. Required.
	Transport  realtime.Factory
	HTTPClient *http.Client
	Timeout    time.Duration
	// Observer receives every reconciliation outcome of the session.
	Observer callsession.Observer
	Logger   *slog.Logger
}

// User is the authenticated dialer user.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// Client owns one REST client and one realtime connection. Sessions created
// through it share both.
type Client struct {
	api *restapi.Client
	rt  *realtime.Connection
	obs callsession.Observer
	log *slog.Logger

	mu        sync.Mutex
	user      *User
	session   *callsession.CallSession
	destroyed bool
}

func New(opts Options) (*Client, error) {
	if opts.Host == "" {
		return nil, errors.New("callsdk: host is required")
	}
	if opts.AuthToken == "" {
		return nil, errors.New("callsdk: auth token is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("callsdk: realtime transport is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	api := restapi.New(opts.Host, opts.Namespace, opts.AuthToken)
	api.Logger = log
	if opts.HTTPClient != nil {
		api.HTTPClient = opts.HTTPClient
	}
	if opts.Timeout > 0 {
		api.Timeout = opts.Timeout
	}

	rt, err := realtime.NewConnection(realtime.ConnectionOptions{
		AuthToken:    opts.AuthToken,
		NewTransport: opts.Transport,
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}

	return &Client{api: api, rt: rt, obs: opts.Observer, log: log}, nil
}

// API is the REST client used for every request.
func (c *Client) API() *restapi.Client { return c.api }

// Realtime is the shared realtime connection.
func (c *Client) Realtime() *realtime.Connection { return c.rt }

// CurrentUser returns the authenticated user. The first successful lookup
// is cached for the life of the client.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return User{}, ErrDestroyed
	}
	if c.user != nil {
		u := *c.user
		c.mu.Unlock()
		return u, nil
	}
	c.mu.Unlock()

	var resp struct {
		Users []map[string]any `json:"users"`
	}
	if err := c.api.Get(ctx, "users", url.Values{"current": {"true"}}, &resp); err != nil {
		return User{}, err
	}
	if len(resp.Users) == 0 {
		return User{}, ErrNoUser
	}
	u, err := parseUser(resp.Users[0])
	if err != nil {
		return User{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		c.user = &u
	}
	return *c.user, nil
}

// Fetch resolves the current user, creates the call session bound to their
// channel on first use, and loads its snapshot from the API.
func (c *Client) Fetch(ctx context.Context) (*callsession.CallSession, error) {
	user, err := c.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil, ErrDestroyed
	}
	s := c.session
	if s == nil {
		s, err = callsession.New(ctx, callsession.Options{
			UserID:   user.ID,
			Realtime: c.rt,
			API:      c.api,
			Observer: c.obs,
			Logger:   c.log,
		})
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.session = s
	}
	c.mu.Unlock()

	if err := s.Fetch(ctx); err != nil {
		return s, fmt.Errorf("fetch call session: %w", err)
	}
	return s, nil
}

// SetObserver replaces the observer handed to the session the next Fetch
// creates. A session that already exists keeps its observer.
func (c *Client) SetObserver(o callsession.Observer) {
	c.mu.Lock()
	c.obs = o
	c.mu.Unlock()
}

// Session returns the session created by Fetch, or nil.
func (c *Client) Session() *callsession.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Destroy tears down the session, then the realtime connection. The client
// is unusable afterwards.
func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	s := c.session
	c.session = nil
	c.mu.Unlock()

	if s != nil {
		s.Destroy(ctx)
	}
	return c.rt.Close()
}

func parseUser(data map[string]any) (User, error) {
	id, err := callevents.ParseID(data["id"])
	if err != nil {
		return User{}, fmt.Errorf("user id: %w", err)
	}
	if id == "" {
		return User{}, ErrNoUser
	}
	u := User{ID: id}
	u.Email, _ = data["email"].(string)
	u.FirstName, _ = data["first_name"].(string)
	u.LastName, _ = data["last_name"].(string)
	return u, nil
}
