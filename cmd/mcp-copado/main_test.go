package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

// slowGateway blocks ListPromotions until release is closed.
type slowGateway struct {
	started chan struct{}
	release chan struct{}
}

func newSlowGateway() *slowGateway {
	return &slowGateway{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *slowGateway) Mode() Mode { return ModeMock }

func (g *slowGateway) ListUserStories(ctx context.Context, status string) ([]UserStory, error) {
	return []UserStory{}, nil
}

func (g *slowGateway) ListPromotions(ctx context.Context) ([]Promotion, error) {
	close(g.started)
	<-g.release
	return []Promotion{}, nil
}

func (g *slowGateway) CreatePromotion(ctx context.Context, sourceEnv, targetEnv string, userStoryIDs []string) (*Promotion, error) {
	return nil, validationError("", "not supported")
}

func (g *slowGateway) DeployPromotion(ctx context.Context, promotionID string) (*DeployResult, error) {
	return nil, validationError("", "not supported")
}

func startServeStdio(t *testing.T, gw Gateway, output io.Writer, grace time.Duration) (context.CancelFunc, <-chan error) {
	t.Helper()
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := NewServer(gw, output, discardLogger(), nil)
	result := make(chan error, 1)
	go func() {
		result <- serveStdio(ctx, srv, pr, grace)
	}()
	go func() {
		io.WriteString(pw, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_promotions"}}`+"\n")
	}()
	return cancel, result
}

func TestServeStdioWaitsForRequestInFlight(t *testing.T) {
	gw := newSlowGateway()
	var output bytes.Buffer
	cancel, result := startServeStdio(t, gw, &output, 10*time.Second)

	<-gw.started
	cancel()

	select {
	case <-result:
		t.Fatal("serveStdio() returned while a request was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gw.release)
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("serveStdio() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serveStdio() did not return after the request finished")
	}

	if !strings.Contains(output.String(), `"id":1`) {
		t.Errorf("response for the request in flight was not written: %q", output.String())
	}
}

func TestServeStdioGracePeriodExpires(t *testing.T) {
	gw := newSlowGateway()
	t.Cleanup(func() { close(gw.release) })
	cancel, result := startServeStdio(t, gw, io.Discard, 20*time.Millisecond)

	<-gw.started
	cancel()

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("serveStdio() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serveStdio() ignored the grace period")
	}
}

func TestServeStdioReturnsAtEOF(t *testing.T) {
	c, _ := newMockClient(t)
	var output bytes.Buffer
	srv := NewServer(c, &output, discardLogger(), nil)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")
	if err := serveStdio(context.Background(), srv, in, time.Second); err != nil {
		t.Fatalf("serveStdio() error = %v", err)
	}
	if output.Len() == 0 {
		t.Error("no response written")
	}
}
