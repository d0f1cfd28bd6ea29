package wire

import (
	"bufio"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"github.com/cfengine-go/agentcore/internal/crypto"
	"github.com/cfengine-go/agentcore/internal/lastseen"
	"github.com/cfengine-go/agentcore/internal/netcache"
)

// handleHello answers a HELLO verb: the caller's base64-encoded PKIX DER
// public key, hashed into the digest internal/lastseen keys peers by and
// recorded as an incoming contact. This host's own identity digest is
// echoed back (when Identity is set) so the caller can record us in turn.
func (s *Server) handleHello(conn net.Conn, msg Message) error {
	if len(msg.Args) < 1 {
		return writeBad(conn, "missing public key")
	}
	peerDigest, err := digestFromBase64DER(msg.Args[0])
	if err != nil {
		return writeBad(conn, err.Error())
	}

	if s.PeerRegistry != nil {
		addr := conn.RemoteAddr().String()
		if host, _, splitErr := net.SplitHostPort(addr); splitErr == nil {
			addr = host
		}
		if err := s.PeerRegistry.Register(lastseen.Incoming, peerDigest.Printable(), addr, s.now(), 1); err != nil {
			return writeBad(conn, fmt.Sprintf("register peer: %v", err))
		}
	}

	reply := string(StatusOK)
	if s.Identity != nil {
		reply += " " + s.Identity.Digest.Printable()
	}
	return WriteMessage(conn, Message{Verb: Verb(reply)})
}

func digestFromBase64DER(encoded string) (crypto.Digest, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return crypto.Digest{}, fmt.Errorf("wire: malformed public key encoding: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return crypto.Digest{}, fmt.Errorf("wire: malformed public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return crypto.Digest{}, fmt.Errorf("wire: unsupported public key type %T", pub)
	}
	return crypto.HashPubkeyRSA(crypto.AlgoSHA256, rsaPub)
}

// Hello sends this client's identity to host:port, returning the peer's
// echoed digest and, when PeerRegistry is set, recording it as an
// outgoing contact. A client with no Identity configured cannot call
// Hello; callers that don't need peer trust tracking can skip it
// entirely and issue OPENDIR/STAT/GET directly.
func (c *Client) Hello(ctx context.Context, host string, port int, flags netcache.Flags) (string, error) {
	if c.Identity == nil {
		return "", fmt.Errorf("wire: client has no identity configured")
	}
	der, err := x509.MarshalPKIXPublicKey(&c.Identity.Private.PublicKey)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(der)

	var peerDigest string
	err = c.call(ctx, host, port, flags, func(conn net.Conn) error {
		if err := WriteMessage(conn, Message{Verb: VerbHello, Args: []string{encoded}}); err != nil {
			return err
		}
		r := bufio.NewReader(conn)
		reply, err := ReadMessage(r)
		if err != nil {
			return err
		}
		resp := ParseResponse(reply.String())
		if !resp.OK {
			return fmt.Errorf("wire: HELLO rejected: %s", resp.Payload)
		}
		peerDigest = resp.Payload
		if c.PeerRegistry != nil && peerDigest != "" {
			if err := c.PeerRegistry.Register(lastseen.Outgoing, peerDigest, host, time.Now(), 1); err != nil {
				return err
			}
		}
		return nil
	})
	return peerDigest, err
}
