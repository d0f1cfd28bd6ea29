package wire

import (
	"bufio"
	"net"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	want := Message{Verb: VerbSynch, Args: []string{"1700000000", "STAT", "/inputs/promise.cf"}}
	go func() {
		if err := WriteMessage(c1, want); err != nil {
			t.Errorf("WriteMessage: %v", err)
		}
	}()

	got, err := ReadMessage(bufio.NewReader(c2))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Verb != want.Verb || len(got.Args) != len(want.Args) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want.Args {
		if got.Args[i] != want.Args[i] {
			t.Fatalf("arg %d = %q, want %q", i, got.Args[i], want.Args[i])
		}
	}
}

func TestParseResponse(t *testing.T) {
	ok := ParseResponse("OK: size=42 mode=644")
	if !ok.OK || ok.Payload != "size=42 mode=644" {
		t.Fatalf("ParseResponse(OK) = %+v", ok)
	}

	bad := ParseResponse("BAD: time synch 120s")
	if bad.OK || bad.Payload != "time synch 120s" {
		t.Fatalf("ParseResponse(BAD) = %+v", bad)
	}
}

func TestIsFinalChunk(t *testing.T) {
	if IsFinalChunk(BufferSize - 1) {
		t.Fatal("a full chunk was treated as final")
	}
	if !IsFinalChunk(BufferSize - 2) {
		t.Fatal("a short chunk was not treated as final")
	}
	if !IsFinalChunk(0) {
		t.Fatal("an empty chunk was not treated as final")
	}
}

func TestWriteMessageRejectsOversizedPayload(t *testing.T) {
	huge := make([]byte, BufferSize)
	for i := range huge {
		huge[i] = 'x'
	}
	err := WriteMessage(discardWriter{}, Message{Verb: VerbGet, Args: []string{string(huge)}})
	if err == nil {
		t.Fatal("expected error writing an oversized message")
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
