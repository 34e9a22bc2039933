// Package popup implements the opener side of the OAuth popup
// handshake: open a child window at the provider login URL, wait for
// exactly one result message from its callback page, and resolve with
// the {account, access token} pair or a terminal failure.
package popup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/taskhive/backend/pkg/api"
)

var (
	ErrPopupBlocked     = errors.New("popup blocked")
	ErrUserCancelled    = errors.New("login cancelled")
	ErrHandshakeTimeout = errors.New("login timed out")
	ErrLoginFailed      = errors.New("login failed")
)

const (
	DefaultTimeout      = 5 * time.Minute
	DefaultPollInterval = time.Second
)

// Message is the payload posted by the callback page. Origin is the
// origin the message arrived from, filled in by the Window
// implementation.
type Message struct {
	Success     bool         `json:"success"`
	AccessToken string       `json:"accessToken,omitempty"`
	Account     *api.Account `json:"user,omitempty"`
	Error       string       `json:"error,omitempty"`
	Origin      string       `json:"-"`
}

// Window is a handle on the child window. Subscribe registers a message
// listener and returns its deregistration func; Closed reports whether
// the user has closed the window.
type Window interface {
	Subscribe() (<-chan Message, func())
	Closed() bool
	Close()
}

// Opener creates popup windows. A nil window or an error means the
// popup was blocked.
type Opener interface {
	Open(url string) (Window, error)
}

type State int

const (
	StateOpened State = iota
	StateAwaiting
	StateResolved
	StateCancelled
	StateTimedOut
)

type Options struct {
	// Timeout bounds the whole handshake. Zero means DefaultTimeout.
	Timeout time.Duration
	// PollInterval is how often the window is checked for closure.
	// Zero means DefaultPollInterval.
	PollInterval time.Duration
	// AllowedOrigin restricts which message origins are accepted.
	// Messages from other origins are ignored, not fatal. Empty accepts
	// any origin.
	AllowedOrigin string
}

// Result is the successful outcome, equivalent to a password login. The
// caller still installs it into the client session.
type Result struct {
	AccessToken string
	Account     *api.Account
}

// Handshake is a single popup login attempt. It resolves exactly once;
// every terminal path runs the same cleanup, so repeated attempts never
// leak listeners or poll timers.
type Handshake struct {
	win         Window
	messages    <-chan Message
	unsubscribe func()
	opts        Options

	cleanupOnce sync.Once

	mu    sync.Mutex
	state State
}

// Start opens the popup and registers the message listener. If the
// opener cannot produce a usable window it fails with ErrPopupBlocked
// before any listener exists.
func Start(opener Opener, url string, opts Options) (*Handshake, error) {
	win, err := opener.Open(url)
	if err != nil || win == nil {
		return nil, ErrPopupBlocked
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	messages, unsubscribe := win.Subscribe()
	return &Handshake{
		win:         win,
		messages:    messages,
		unsubscribe: unsubscribe,
		opts:        opts,
		state:       StateOpened,
	}, nil
}

func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handshake) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Await blocks until the handshake resolves. First message wins;
// a closed popup resolves as cancellation, the deadline as timeout.
func (h *Handshake) Await(ctx context.Context) (*Result, error) {
	h.setState(StateAwaiting)

	timeout := time.NewTimer(h.opts.Timeout)
	defer timeout.Stop()
	poll := time.NewTicker(h.opts.PollInterval)
	defer poll.Stop()

	defer h.cleanup()

	for {
		select {
		case msg, ok := <-h.messages:
			if !ok {
				h.setState(StateCancelled)
				return nil, ErrUserCancelled
			}
			// Fail closed: with an allowed origin configured, a message
			// without an origin is dropped like any foreign one.
			if h.opts.AllowedOrigin != "" && msg.Origin != h.opts.AllowedOrigin {
				continue
			}
			return h.resolve(msg)

		case <-poll.C:
			if h.win.Closed() {
				h.setState(StateCancelled)
				return nil, ErrUserCancelled
			}

		case <-timeout.C:
			h.setState(StateTimedOut)
			return nil, ErrHandshakeTimeout

		case <-ctx.Done():
			h.setState(StateCancelled)
			return nil, ctx.Err()
		}
	}
}

func (h *Handshake) resolve(msg Message) (*Result, error) {
	h.setState(StateResolved)

	if msg.Success && msg.AccessToken != "" && msg.Account != nil {
		return &Result{AccessToken: msg.AccessToken, Account: msg.Account}, nil
	}

	reason := msg.Error
	if reason == "" {
		reason = "authentication failed"
	}
	return nil, fmt.Errorf("%w: %s", ErrLoginFailed, reason)
}

// cleanup deregisters the listener and force-closes the window. Safe to
// run more than once; only the first run acts.
func (h *Handshake) cleanup() {
	h.cleanupOnce.Do(func() {
		h.unsubscribe()
		if !h.win.Closed() {
			h.win.Close()
		}
	})
}
