package server

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"

	"github.com/marmos91/radiusd/pkg/backend"
	"github.com/marmos91/radiusd/pkg/packet"
	"github.com/marmos91/radiusd/pkg/policy"
)

const testSecret = "s3cr3t"

const testPolicy = `
address_pools:
  pool1:
    ipv4:
      - 10.0.0.0/30

reply_definitions:
  auth:
    ok:
      code: 2
      attributes:
        Reply-Message: "OK"
        Framed-IP-Address: "-> fromPool"
  acct:
    acct_ok:
      code: 5
      attributes: {}

pool_match_rules:
  - pool1: []

reply_match_rules:
  auth:
    - ok:
        - User-Name: "alice"
  acct:
    - acct_ok: []

redis_storage:
  prefix: "p."
  auth: ["User-Name"]
  acct: ["User-Name"]
  coa: ["code"]
  disc: ["code"]
`

func newTestBackend(t *testing.T) *backend.Backend {
	t.Helper()
	pol, err := policy.Parse([]byte(testPolicy), ".yml")
	require.NoError(t, err)
	b, err := backend.New(pol, nil, nil)
	require.NoError(t, err)
	return b
}

func startListener(t *testing.T, h Handler, maxConcurrent int) (*Listener, string) {
	t.Helper()
	codec := packet.NewCodec(testSecret)

	l := NewListener(ListenerConfig{
		Name:            "auth",
		BindAddress:     "127.0.0.1",
		Port:            0,
		MaxConcurrent:   maxConcurrent,
		ShutdownTimeout: 2 * time.Second,
	}, h, codec.Decode, codec.Encode, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- l.Serve(context.Background()) }()

	addr := l.Addr()
	require.NotEmpty(t, addr)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		require.NoError(t, l.Stop(ctx))

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("Serve did not return after Stop")
		}
	})

	return l, addr
}

func exchange(t *testing.T, addr, userName string, timeout time.Duration) (*radius.Packet, error) {
	t.Helper()
	req := radius.New(radius.CodeAccessRequest, []byte(testSecret))
	require.NoError(t, rfc2865.UserName_SetString(req, userName))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return radius.Exchange(ctx, req, addr)
}

func TestAccessRequestRoundTrip(t *testing.T) {
	_, addr := startListener(t, newTestBackend(t), 8)

	resp, err := exchange(t, addr, "alice", 3*time.Second)
	require.NoError(t, err)

	assert.Equal(t, radius.CodeAccessAccept, resp.Code)
	assert.Equal(t, "OK", rfc2865.ReplyMessage_GetString(resp))
	assert.Equal(t, "10.0.0.1", rfc2865.FramedIPAddress_Get(resp).String())
}

func TestUnmatchedRequestGetsNoReply(t *testing.T) {
	_, addr := startListener(t, newTestBackend(t), 8)

	// "mallory" selects the default template, which does not exist.
	_, err := exchange(t, addr, "mallory", 500*time.Millisecond)
	assert.Error(t, err, "client should time out waiting for a reply")
}

func TestMalformedDatagramIsDiscarded(t *testing.T) {
	_, addr := startListener(t, newTestBackend(t), 8)

	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0xff, 0x00, 0x01})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	buf := make([]byte, 64)
	_, err = conn.Read(buf)
	assert.Error(t, err, "no reply expected for malformed datagrams")

	// The listener must still serve well-formed traffic afterwards.
	resp, err := exchange(t, addr, "alice", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, radius.CodeAccessAccept, resp.Code)
}

// gateProbe records how many handlers run at once.
type gateProbe struct {
	backend *backend.Backend
	current atomic.Int32
	peak    atomic.Int32
}

func (g *gateProbe) HandleRequest(ctx context.Context, req packet.Request, host string, port int) backend.Result {
	cur := g.current.Add(1)
	for {
		peak := g.peak.Load()
		if cur <= peak || g.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	time.Sleep(50 * time.Millisecond)
	g.current.Add(-1)
	return g.backend.HandleRequest(ctx, req, host, port)
}

func TestConcurrencyGate(t *testing.T) {
	probe := &gateProbe{backend: newTestBackend(t)}
	_, addr := startListener(t, probe, 1)

	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	req := radius.New(radius.CodeAccessRequest, []byte(testSecret))
	require.NoError(t, rfc2865.UserName_SetString(req, "alice"))
	payload, err := req.Encode()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := conn.Write(payload)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return probe.current.Load() == 0 && probe.peak.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, int32(1), probe.peak.Load(),
		"no more than one handler may hold the gate at once")
}

func TestStopIsIdempotent(t *testing.T) {
	l, _ := startListener(t, newTestBackend(t), 4)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))
	require.NoError(t, l.Stop(ctx))
}

func TestServeFailsOnBusyPort(t *testing.T) {
	b := newTestBackend(t)
	codec := packet.NewCodec(testSecret)

	first := NewListener(ListenerConfig{
		Name: "auth", BindAddress: "127.0.0.1", Port: 0, MaxConcurrent: 1,
	}, b, codec.Decode, codec.Encode, nil)
	go first.Serve(context.Background())
	addr := first.Addr()
	defer first.Stop(context.Background())

	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	second := NewListener(ListenerConfig{
		Name: "auth", BindAddress: "127.0.0.1", Port: port, MaxConcurrent: 1,
	}, b, codec.Decode, codec.Encode, nil)

	err = second.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind auth listener")
}
