package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/replyd/internal/domain"
	"github.com/ashureev/replyd/internal/transport"
)

// fakeClient scripts the transport side of the handshake. Zero value
// behaves like a reachable, signed-out account that accepts any code.
type fakeClient struct {
	mu            sync.Mutex
	authorized    bool
	connectErr    error
	codeErr       map[string]error
	passwordErr   map[string]error
	codeRequests  int
	signInGate    chan struct{}
	signedInCodes []string
}

func (f *fakeClient) Connect(_ context.Context, _, _, _ string) error { return f.connectErr }

func (f *fakeClient) IsAuthorized(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorized, nil
}

func (f *fakeClient) RequestLoginCode(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeRequests++
	return nil
}

func (f *fakeClient) SignIn(_ context.Context, code string) error {
	if f.signInGate != nil {
		<-f.signInGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.codeErr[code]; ok {
		return err
	}
	f.signedInCodes = append(f.signedInCodes, code)
	return nil
}

func (f *fakeClient) SignInWithPassword(_ context.Context, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.passwordErr[password]; ok {
		return err
	}
	return nil
}

func (f *fakeClient) FetchHistory(_ context.Context, _ string, _ int) ([]transport.HistoryItem, error) {
	return nil, nil
}

func (f *fakeClient) SendMessage(_ context.Context, _, _ string) error { return nil }

func (f *fakeClient) MarkRead(_ context.Context, _ string, _ int64) error { return nil }

func (f *fakeClient) Events() <-chan transport.Event { return nil }

func (f *fakeClient) Close() error { return nil }

func waitForStatus(t *testing.T, c *Coordinator, want domain.AuthStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for status %q, still %q", want, c.Snapshot().Status)
}

func waitForError(t *testing.T, c *Coordinator) domain.AuthState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := c.Snapshot(); s.Error != "" {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for an error message")
	return domain.AuthState{}
}

func startRun(c *Coordinator) chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.Background(), "12345", "hash", "+15550001111")
	}()
	return done
}

func TestRunAlreadyAuthorized(t *testing.T) {
	t.Parallel()

	client := &fakeClient{authorized: true}
	c := NewCoordinator(client, time.Second)

	if err := c.Run(context.Background(), "12345", "hash", "+15550001111"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := c.Snapshot().Status; got != domain.AuthAuthorized {
		t.Errorf("Expected authorized, got %q", got)
	}
	if client.codeRequests != 0 {
		t.Errorf("Expected no code request for a signed-in session, got %d", client.codeRequests)
	}
}

func TestRunCodeFlow(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	c := NewCoordinator(client, 5*time.Second)
	done := startRun(c)

	waitForStatus(t, c, domain.AuthWaitingCode)
	if err := c.SubmitCode("111222"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := c.Snapshot().Status; got != domain.AuthAuthorized {
		t.Errorf("Expected authorized, got %q", got)
	}
}

func TestRunInvalidCodeReArms(t *testing.T) {
	t.Parallel()

	client := &fakeClient{codeErr: map[string]error{"bad": transport.ErrCodeInvalid}}
	c := NewCoordinator(client, 5*time.Second)
	done := startRun(c)

	waitForStatus(t, c, domain.AuthWaitingCode)
	if err := c.SubmitCode("bad"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	state := waitForError(t, c)
	if state.Status != domain.AuthWaitingCode {
		t.Fatalf("Expected to keep waiting after a rejected code, got %q", state.Status)
	}
	if !strings.Contains(state.Error, "Invalid login code") {
		t.Errorf("Expected rejection message, got %q", state.Error)
	}

	if err := c.SubmitCode("good"); err != nil {
		t.Fatalf("SubmitCode retry failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := c.Snapshot(); got.Status != domain.AuthAuthorized || got.Error != "" {
		t.Errorf("Expected clean authorized state, got %+v", got)
	}
}

func TestRunSecondFactor(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		codeErr:     map[string]error{"111222": transport.ErrPasswordRequired},
		passwordErr: map[string]error{"wrong": transport.ErrPasswordInvalid},
	}
	c := NewCoordinator(client, 5*time.Second)
	done := startRun(c)

	waitForStatus(t, c, domain.AuthWaitingCode)
	if err := c.SubmitCode("111222"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	waitForStatus(t, c, domain.AuthWaitingPassword)
	if err := c.SubmitPassword("wrong"); err != nil {
		t.Fatalf("SubmitPassword failed: %v", err)
	}

	state := waitForError(t, c)
	if state.Status != domain.AuthWaitingPassword {
		t.Fatalf("Expected to keep waiting after a rejected password, got %q", state.Status)
	}

	if err := c.SubmitPassword("correct horse"); err != nil {
		t.Fatalf("SubmitPassword retry failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := c.Snapshot().Status; got != domain.AuthAuthorized {
		t.Errorf("Expected authorized, got %q", got)
	}
}

func TestRunInputTimeout(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(&fakeClient{}, 50*time.Millisecond)
	done := startRun(c)

	err := <-done
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	state := c.Snapshot()
	if state.Status != domain.AuthError {
		t.Errorf("Expected error state, got %q", state.Status)
	}
	if !strings.Contains(state.Error, "timed out") {
		t.Errorf("Expected timeout message retained, got %q", state.Error)
	}
}

func TestSubmitWithoutWait(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(&fakeClient{}, time.Second)
	if err := c.SubmitCode("111222"); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("Expected ErrNotWaiting, got %v", err)
	}
	if err := c.SubmitPassword("pw"); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("Expected ErrNotWaiting, got %v", err)
	}
}

func TestSubmitWhileProcessingRejected(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	client := &fakeClient{signInGate: gate}
	c := NewCoordinator(client, 5*time.Second)
	done := startRun(c)

	waitForStatus(t, c, domain.AuthWaitingCode)
	if err := c.SubmitCode("111222"); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}

	// The first code is being verified; a second submission has no armed
	// channel to land on.
	if err := c.SubmitCode("333444"); !errors.Is(err, ErrNotWaiting) {
		t.Errorf("Expected ErrNotWaiting for duplicate submission, got %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.signedInCodes) != 1 || client.signedInCodes[0] != "111222" {
		t.Errorf("Expected exactly the first code to sign in, got %v", client.signedInCodes)
	}
}

func TestRunCancelLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewCoordinator(&fakeClient{}, 5*time.Second)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, "12345", "hash", "+15550001111")
	}()

	waitForStatus(t, c, domain.AuthWaitingCode)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if got := c.Snapshot().Status; got == domain.AuthError {
		t.Errorf("Cancellation should not enter the error state, got %q", got)
	}
}

func TestRunConnectFailure(t *testing.T) {
	t.Parallel()

	client := &fakeClient{connectErr: errors.New("sidecar unreachable")}
	c := NewCoordinator(client, time.Second)

	if err := c.Run(context.Background(), "12345", "hash", "+15550001111"); err == nil {
		t.Fatal("Expected connect error")
	}
	state := c.Snapshot()
	if state.Status != domain.AuthError {
		t.Errorf("Expected error state, got %q", state.Status)
	}
	if !strings.Contains(state.Error, "sidecar unreachable") {
		t.Errorf("Expected cause retained, got %q", state.Error)
	}
}
