package wire

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/cfengine-go/agentcore/internal/crypto"
	"github.com/cfengine-go/agentcore/internal/lastseen"
	"github.com/cfengine-go/agentcore/internal/netcache"
)

func TestClientServerHelloExchangesAndRecordsIdentity(t *testing.T) {
	serverKeys := t.TempDir()
	serverIdentity, err := crypto.LoadOrGenerateKeyPair(crypto.AlgoSHA256,
		filepath.Join(serverKeys, "server.priv"), filepath.Join(serverKeys, "server.pub"))
	if err != nil {
		t.Fatalf("server LoadOrGenerateKeyPair: %v", err)
	}

	clientKeys := t.TempDir()
	clientIdentity, err := crypto.LoadOrGenerateKeyPair(crypto.AlgoSHA256,
		filepath.Join(clientKeys, "client.priv"), filepath.Join(clientKeys, "client.pub"))
	if err != nil {
		t.Fatalf("client LoadOrGenerateKeyPair: %v", err)
	}

	serverPeers, err := lastseen.Open(t.TempDir())
	if err != nil {
		t.Fatalf("lastseen.Open (server): %v", err)
	}
	defer serverPeers.Close()

	clientPeers, err := lastseen.Open(t.TempDir())
	if err != nil {
		t.Fatalf("lastseen.Open (client): %v", err)
	}
	defer clientPeers.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	srv := &Server{
		WorkDir:      t.TempDir(),
		Identity:     serverIdentity,
		PeerRegistry: serverPeers,
	}
	go srv.Serve(ln)

	addr := ln.Addr().(*net.TCPAddr)
	client := NewClient(netcache.New(), 100, 10, 2*time.Second)
	client.Identity = clientIdentity
	client.PeerRegistry = clientPeers

	peerDigest, err := client.Hello(context.Background(), "127.0.0.1", addr.Port, netcache.Flags{})
	if err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if peerDigest != serverIdentity.Digest.Printable() {
		t.Fatalf("peerDigest = %s, want %s", peerDigest, serverIdentity.Digest.Printable())
	}

	if _, ok, err := clientPeers.Forward(serverIdentity.Digest.Printable()); err != nil || !ok {
		t.Fatalf("client did not record server as an outgoing contact: ok=%v err=%v", ok, err)
	}
	if _, ok, err := serverPeers.Forward(clientIdentity.Digest.Printable()); err != nil || !ok {
		t.Fatalf("server did not record client as an incoming contact: ok=%v err=%v", ok, err)
	}
}

func TestHelloRequiresClientIdentity(t *testing.T) {
	client := NewClient(netcache.New(), 100, 10, time.Second)
	if _, err := client.Hello(context.Background(), "127.0.0.1", 1, netcache.Flags{}); err == nil {
		t.Fatal("expected error calling Hello with no Identity configured")
	}
}
