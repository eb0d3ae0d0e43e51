package interactive

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightstreamer/ls-go-client/internal/testserver"
	"github.com/lightstreamer/ls-go-client/pkg/client"
	"github.com/lightstreamer/ls-go-client/pkg/session"
)

const waitFor = 5 * time.Second

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) contains(s string) func() bool {
	return func() bool { return strings.Contains(b.String(), s) }
}

func newTestShell(t *testing.T, opts testserver.Options) (*testserver.Server, *Shell, *syncBuffer) {
	t.Helper()
	srv := testserver.New(opts)
	t.Cleanup(srv.Close)

	c, err := client.New(srv.URL(), "DEMO")
	require.NoError(t, err)
	t.Cleanup(c.Close)

	out := &syncBuffer{}
	return srv, newShell(c, out, false), out
}

func TestShellSubscribeAndGet(t *testing.T) {
	srv, sh, out := newTestShell(t, testserver.Options{})
	srv.SetItem("item1", map[string]string{"price": "10"})

	assert.False(t, sh.Exec("connect"))
	assert.False(t, sh.Exec("sub MERGE item1 price"))
	require.Eventually(t, out.contains("#1 subscribed"), waitFor, 10*time.Millisecond)
	require.Eventually(t, out.contains(`price="10"`), waitFor, 10*time.Millisecond)
	assert.Contains(t, out.String(), "#1 item1")
	require.Eventually(t, out.contains("* "+session.StatusWSStreaming), waitFor, 10*time.Millisecond)

	sh.Exec("get 1 item1 price")
	assert.Contains(t, out.String(), "\"10\"\n")

	sh.Exec("subs")
	assert.Contains(t, out.String(), "#1 MERGE item1 [price] subscribed")

	sh.Exec("status")
	assert.Contains(t, out.String(), "Session:  S0001")

	sh.Exec("unsub #1")
	sh.Exec("subs")
	assert.Contains(t, out.String(), "No subscriptions")
}

func TestShellSend(t *testing.T) {
	_, sh, out := newTestShell(t, testserver.Options{MessageResponse: strings.ToUpper})

	sh.Exec("connect")
	sh.Exec("send -seq chat hello there")
	require.Eventually(t, out.contains(`> "hello there" processed: HELLO THERE`), waitFor, 10*time.Millisecond)
}

func TestShellErrors(t *testing.T) {
	_, sh, out := newTestShell(t, testserver.Options{})

	sh.Exec("frobnicate")
	assert.Contains(t, out.String(), "Unknown command: frobnicate")

	sh.Exec("sub MERGE item1")
	assert.Contains(t, out.String(), "usage: sub")

	sh.Exec("unsub 7")
	assert.Contains(t, out.String(), "no subscription #7")

	sh.Exec("transport PIGEON")
	assert.Contains(t, out.String(), "Error:")

	assert.True(t, sh.Exec("quit"))
}

func TestShellTransport(t *testing.T) {
	_, sh, out := newTestShell(t, testserver.Options{})

	sh.Exec("transport http-polling")
	sh.Exec("status")
	assert.Contains(t, out.String(), "Forced:   HTTP-POLLING")

	sh.Exec("transport any")
	assert.Empty(t, sh.client.ConnectionOptions().ForcedTransport())
}

func TestOutcome(t *testing.T) {
	o := NewOutcome()
	o.OnDeny("buy", 12, "no funds")
	o.OnProcessed("buy", "late")

	res := <-o.Done()
	assert.False(t, res.OK())
	assert.Equal(t, `"buy" denied: 12 no funds`, res.String())

	select {
	case extra := <-o.Done():
		t.Fatalf("unexpected second outcome %v", extra)
	default:
	}
}
