package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"go.etcd.io/bbolt"
)

// dumpFile prints key/value pairs from db to stdout; raw selects the
// lmdump low-level form (hex-encoded, with byte counts) over dump's
// best-effort text decoding.
func dumpFile(path string, raw bool) error {
	return dumpTo(os.Stdout, path, raw)
}

func dumpTo(w io.Writer, path string, raw bool) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(w, "  (no such database)")
			return nil
		}
		return err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second, ReadOnly: true})
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			fmt.Fprintf(w, "  bucket %s\n", name)
			return b.ForEach(func(k, v []byte) error {
				if raw {
					fmt.Fprintf(w, "    %x = %d bytes (%s)\n", k, len(v), hex.EncodeToString(v[:min(len(v), 32)]))
					return nil
				}
				fmt.Fprintf(w, "    %s = %s\n", displayBytes(k), displayBytes(v))
				return nil
			})
		})
	})
}

func displayBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return "0x" + hex.EncodeToString(b)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
