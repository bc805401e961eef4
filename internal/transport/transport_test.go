package transport

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spacedriveapp/sdcore/internal/device"
)

// pairedKeys derives matching symmetric keys for both ends of a test
// connection, the way a completed device.Session would.
func pairedKeys(t *testing.T) (*device.SessionKeys, *device.SessionKeys) {
	t.Helper()

	initiator, err := device.GenerateEphemeralKeyPair()
	require.NoError(t, err)

	joiner, err := device.GenerateEphemeralKeyPair()
	require.NoError(t, err)

	initKeys, err := initiator.DeriveSessionKeys(joiner.Public, device.RoleInitiator)
	require.NoError(t, err)

	joinKeys, err := joiner.DeriveSessionKeys(initiator.Public, device.RoleJoiner)
	require.NoError(t, err)

	return initKeys, joinKeys
}

func TestConnStreamRoundTrip(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	t.Cleanup(func() { _ = clientRaw.Close(); _ = serverRaw.Close() })

	clientKeys, serverKeys := pairedKeys(t)

	client := NewConn(clientRaw, clientKeys, slog.New(slog.DiscardHandler))
	server := NewConn(serverRaw, serverKeys, slog.New(slog.DiscardHandler))

	clientStream := client.OpenStream()
	serverStream := server.OpenStream()

	// Two independently-allocated streams happen to share id 1 on each
	// side; that's fine, ids are only unique per-Conn and each side
	// tracks its own.
	require.NoError(t, clientStream.Send([]byte("ping")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := serverStream.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping", string(got))

	require.NoError(t, serverStream.Send([]byte("pong")))

	got, err = clientStream.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "pong", string(got))
}

func TestConnGoodbyeIsGraceful(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()

	clientKeys, serverKeys := pairedKeys(t)

	client := NewConn(clientRaw, clientKeys, slog.New(slog.DiscardHandler))
	server := NewConn(serverRaw, serverKeys, slog.New(slog.DiscardHandler))

	done := make(chan struct{})

	go func() {
		<-server.Done()
		close(done)
	}()

	require.NoError(t, client.Goodbye("shutting down"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server connection never observed goodbye")
	}
}

func TestCacheCoalescesDials(t *testing.T) {
	var dialCount int

	clientKeys, serverKeys := pairedKeys(t)
	_ = serverKeys

	dial := func(ctx context.Context, peer string) (net.Conn, *device.SessionKeys, error) {
		dialCount++

		clientRaw, serverRaw := net.Pipe()

		// Drain the server side so writeFrame's protocol selector frame
		// does not block the dial.
		go func() {
			_, _ = readFrame(serverRaw)
		}()

		return clientRaw, clientKeys, nil
	}

	cache := NewCache(dial, slog.New(slog.DiscardHandler))

	ctx := context.Background()

	results := make(chan *Conn, 4)

	for i := 0; i < 4; i++ {
		go func() {
			conn, err := cache.Get(ctx, "peer-a", ProtocolSync)
			require.NoError(t, err)
			results <- conn
		}()
	}

	var conns []*Conn
	for i := 0; i < 4; i++ {
		conns = append(conns, <-results)
	}

	for _, c := range conns[1:] {
		require.Same(t, conns[0], c)
	}

	require.Equal(t, 1, dialCount)
}

func TestCacheRejectsUnknownProtocol(t *testing.T) {
	dial := func(ctx context.Context, peer string) (net.Conn, *device.SessionKeys, error) {
		t.Fatal("dial should not be called for an invalid protocol")
		return nil, nil, nil
	}

	cache := NewCache(dial, slog.New(slog.DiscardHandler))

	_, err := cache.Get(context.Background(), "peer-a", Protocol("carrier-pigeon"))
	require.Error(t, err)
}
