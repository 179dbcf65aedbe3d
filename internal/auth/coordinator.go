// Package auth drives the interactive transport login handshake.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/replyd/internal/domain"
	"github.com/ashureev/replyd/internal/transport"
)

// DefaultInputTimeout bounds how long each waiting state holds before the
// handshake gives up.
const DefaultInputTimeout = 600 * time.Second

// ErrNotWaiting is returned when input arrives in a state that does not
// expect it.
var ErrNotWaiting = errors.New("not waiting for this input")

// Coordinator owns the login state machine. Run blocks through the
// handshake while the HTTP surface reads snapshots and submits operator
// input from its own goroutines. Waits happen outside the lock; each
// waiting state gets a fresh single-use input channel so a stale
// submission can never satisfy a later prompt.
type Coordinator struct {
	client  transport.Client
	timeout time.Duration

	mu     sync.Mutex
	status domain.AuthStatus
	errMsg string
	codeCh chan string
	passCh chan string
}

// NewCoordinator returns a coordinator over client. timeout bounds each
// wait for operator input; zero or negative selects DefaultInputTimeout.
func NewCoordinator(client transport.Client, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultInputTimeout
	}
	return &Coordinator{
		client:  client,
		timeout: timeout,
		status:  domain.AuthDisconnected,
	}
}

// Snapshot returns a copy of the current handshake state.
func (c *Coordinator) Snapshot() domain.AuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.AuthState{Status: c.status, Error: c.errMsg}
}

// SubmitCode hands the operator's login code to the waiting handshake.
// It never blocks: the armed channel holds one value and is retired on
// first use, so a duplicate submission is rejected instead of queued.
func (c *Coordinator) SubmitCode(code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != domain.AuthWaitingCode || c.codeCh == nil {
		return fmt.Errorf("%w: login code", ErrNotWaiting)
	}
	c.codeCh <- code
	c.codeCh = nil
	return nil
}

// SubmitPassword hands the operator's two-step password to the waiting
// handshake.
func (c *Coordinator) SubmitPassword(password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != domain.AuthWaitingPassword || c.passCh == nil {
		return fmt.Errorf("%w: password", ErrNotWaiting)
	}
	c.passCh <- password
	c.passCh = nil
	return nil
}

// Run connects the transport and walks the login handshake to completion.
// An already signed-in session authorizes immediately. The error state is
// entered on timeout or an unrecoverable transport failure; cancellation
// leaves the current state untouched.
func (c *Coordinator) Run(ctx context.Context, apiID, apiHash, phone string) error {
	c.setState(domain.AuthDisconnected, "")

	if err := c.client.Connect(ctx, apiID, apiHash, phone); err != nil {
		return c.fail(fmt.Errorf("connect transport: %w", err))
	}

	authorized, err := c.client.IsAuthorized(ctx)
	if err != nil {
		return c.fail(fmt.Errorf("check authorization: %w", err))
	}
	if authorized {
		c.setState(domain.AuthAuthorized, "")
		slog.Info("Transport session already authorized")
		return nil
	}

	if err := c.client.RequestLoginCode(ctx, phone); err != nil {
		return c.fail(fmt.Errorf("request login code: %w", err))
	}
	slog.Info("Login code requested, waiting for operator input", "phone", phone)

	return c.codePhase(ctx)
}

func (c *Coordinator) codePhase(ctx context.Context) error {
	input := c.arm(domain.AuthWaitingCode, "")
	for {
		code, err := c.await(ctx, input)
		if err != nil {
			return c.fail(err)
		}

		switch err := c.client.SignIn(ctx, code); {
		case err == nil:
			c.setState(domain.AuthAuthorized, "")
			slog.Info("Transport session authorized")
			return nil
		case errors.Is(err, transport.ErrPasswordRequired):
			slog.Info("Account requires two-step password")
			return c.passwordPhase(ctx)
		case errors.Is(err, transport.ErrCodeInvalid):
			slog.Warn("Login code rejected, waiting for retry")
			input = c.arm(domain.AuthWaitingCode, "Invalid login code, please try again")
		default:
			return c.fail(fmt.Errorf("sign in: %w", err))
		}
	}
}

func (c *Coordinator) passwordPhase(ctx context.Context) error {
	input := c.arm(domain.AuthWaitingPassword, "")
	for {
		password, err := c.await(ctx, input)
		if err != nil {
			return c.fail(err)
		}

		switch err := c.client.SignInWithPassword(ctx, password); {
		case err == nil:
			c.setState(domain.AuthAuthorized, "")
			slog.Info("Transport session authorized")
			return nil
		case errors.Is(err, transport.ErrPasswordInvalid):
			slog.Warn("Two-step password rejected, waiting for retry")
			input = c.arm(domain.AuthWaitingPassword, "Invalid password, please try again")
		default:
			return c.fail(fmt.Errorf("sign in with password: %w", err))
		}
	}
}

// arm enters a waiting state with a fresh input channel. The buffer of one
// lets Submit hand the value over and return without a rendezvous.
func (c *Coordinator) arm(status domain.AuthStatus, errMsg string) chan string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan string, 1)
	c.status = status
	c.errMsg = errMsg
	if status == domain.AuthWaitingPassword {
		c.passCh = ch
	} else {
		c.codeCh = ch
	}
	return ch
}

// await blocks for operator input, the input timeout or cancellation. The
// coordinator lock is never held here.
func (c *Coordinator) await(ctx context.Context, input <-chan string) (string, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case v := <-input:
		return v, nil
	case <-timer.C:
		return "", fmt.Errorf("timed out waiting for auth input after %s", c.timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Coordinator) setState(status domain.AuthStatus, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
	c.errMsg = errMsg
	c.codeCh = nil
	c.passCh = nil
}

// fail records a terminal handshake error. Cancellation is passed through
// without touching the visible state so a shutdown does not masquerade as
// a login failure.
func (c *Coordinator) fail(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	c.setState(domain.AuthError, err.Error())
	slog.Error("Auth handshake failed", "error", err)
	return err
}
