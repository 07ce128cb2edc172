package dns

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_IPLiteral(t *testing.T) {
	r := NewResolver()
	r.local = func(context.Context, string) ([]string, error) {
		t.Fatal("IP literals must not hit the resolver")
		return nil, nil
	}

	ip, err := r.Lookup(context.Background(), "10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", ip)

	ip, err = r.Lookup(context.Background(), "[::1]")
	require.NoError(t, err)
	assert.Equal(t, "::1", ip)
}

func TestLookup_PrefersIPv4(t *testing.T) {
	r := NewResolver()
	r.local = func(context.Context, string) ([]string, error) {
		return []string{"2001:db8::1", "192.0.2.10"}, nil
	}

	ip, err := r.Lookup(context.Background(), "class.example")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", ip)
}

func TestLookup_NoFallbackServers(t *testing.T) {
	r := &Resolver{LocalTimeout: time.Second, RemoteTimeout: time.Second}
	r.local = func(context.Context, string) ([]string, error) {
		return nil, errors.New("nxdomain")
	}

	_, err := r.Lookup(context.Background(), "class.example")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nxdomain")
}

func TestLookup_CanceledContext(t *testing.T) {
	r := NewResolver()
	r.local = func(ctx context.Context, _ string) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Lookup(ctx, "class.example")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDialContext_ResolvesThenDials(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	r := NewResolver()
	r.local = func(context.Context, string) ([]string, error) {
		return []string{"127.0.0.1"}, nil
	}
	conn, err := r.DialContext(context.Background(), "tcp", net.JoinHostPort("gateway.test", port))
	require.NoError(t, err)
	conn.Close()
}

func TestPick_Empty(t *testing.T) {
	_, err := pick(nil)
	assert.ErrorIs(t, err, ErrNoAddress)
}
