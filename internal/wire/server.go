package wire

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cfengine-go/agentcore/internal/crypto"
	"github.com/cfengine-go/agentcore/internal/lastseen"
)

// Server answers verb calls rooted at WorkDir, rejecting STAT calls whose
// client clock has drifted beyond MaxClockSkew.
type Server struct {
	WorkDir      string
	MaxClockSkew time.Duration
	Now          func() time.Time

	// Identity is this host's RSA keypair, echoed back to a caller's
	// HELLO so it can record us as a trusted peer in turn. Nil disables
	// the identity reply half of the handshake.
	Identity *crypto.KeyPair
	// PeerRegistry records a caller's HELLO identity as an incoming
	// contact. Nil disables peer recording.
	PeerRegistry *lastseen.Registry
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Serve accepts connections on ln until it returns an error (typically
// from Close), handling each on its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		msg, err := ReadMessage(r)
		if err != nil {
			return
		}
		if err := s.dispatch(conn, msg); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(conn net.Conn, msg Message) error {
	switch msg.Verb {
	case VerbOpenDir:
		return s.handleOpenDir(conn, msg)
	case VerbSynch:
		return s.handleSynch(conn, msg)
	case VerbGet:
		return s.handleGet(conn, msg)
	case VerbHello:
		return s.handleHello(conn, msg)
	default:
		return WriteMessage(conn, Message{Verb: "", Args: []string{string(StatusBad), "unknown verb"}})
	}
}

func (s *Server) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.WorkDir, path)
}

func (s *Server) handleOpenDir(conn net.Conn, msg Message) error {
	if len(msg.Args) < 1 {
		return writeBad(conn, "missing path")
	}
	entries, err := os.ReadDir(s.resolvePath(msg.Args[0]))
	if err != nil {
		return writeBad(conn, err.Error())
	}
	for _, e := range entries {
		if err := WriteMessage(conn, Message{Verb: Verb(e.Name())}); err != nil {
			return err
		}
	}
	return WriteMessage(conn, Message{Verb: Verb(DirTerminator)})
}

func (s *Server) handleSynch(conn net.Conn, msg Message) error {
	if len(msg.Args) < 3 || Verb(msg.Args[1]) != VerbStat {
		return writeBad(conn, "malformed SYNCH")
	}
	var clientEpoch int64
	if _, err := fmt.Sscanf(msg.Args[0], "%d", &clientEpoch); err != nil {
		return writeBad(conn, "malformed epoch")
	}

	skew := s.now().Sub(time.Unix(clientEpoch, 0))
	if skew < 0 {
		skew = -skew
	}
	if s.MaxClockSkew > 0 && skew > s.MaxClockSkew {
		return writeBad(conn, fmt.Sprintf("time synch %s", skew))
	}

	info, err := os.Stat(s.resolvePath(msg.Args[2]))
	if err != nil {
		return writeBad(conn, err.Error())
	}
	fields := fmt.Sprintf("size=%d mode=%o mtime=%d", info.Size(), info.Mode(), info.ModTime().Unix())
	return WriteMessage(conn, Message{Verb: Verb(string(StatusOK) + " " + fields)})
}

func (s *Server) handleGet(conn net.Conn, msg Message) error {
	if len(msg.Args) < 2 {
		return writeBad(conn, "missing chunk size or path")
	}
	var chunkSize int
	if _, err := fmt.Sscanf(msg.Args[0], "%d", &chunkSize); err != nil || chunkSize <= 0 {
		return writeBad(conn, "malformed chunk size")
	}

	f, err := os.Open(s.resolvePath(msg.Args[1]))
	if err != nil {
		return writeBad(conn, err.Error())
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := WriteChunk(conn, buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			if IsFinalChunk(n) {
				return nil
			}
			// Exact multiple of chunkSize: emit an empty terminating chunk.
			_, werr := WriteChunk(conn, nil)
			return werr
		}
		if err != nil {
			return err
		}
	}
}

func writeBad(conn net.Conn, reason string) error {
	return WriteMessage(conn, Message{Verb: Verb(string(StatusBad) + " " + reason)})
}
