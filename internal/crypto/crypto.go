// Package crypto implements the hash and key primitives shared by the KV
// store, lastseen registry, and wire protocol: a printable Digest type,
// HKDF-based key derivation for per-peer session keys, AES-GCM for the
// wire transport, and the strong/weak PRNG pair used for jitter, splay,
// and connection nonces.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"math/big"
	"math/rand/v2"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/ripemd160"
	"golang.org/x/crypto/ssh"
)

// Algo identifies a digest algorithm, mirroring the set CFEngine's
// HashMethod enum supports for key and file digests.
type Algo string

const (
	AlgoMD5       Algo = "md5"
	AlgoSHA256    Algo = "sha256"
	AlgoSHA512    Algo = "sha512"
	AlgoRIPEMD160 Algo = "ripemd160"
)

func (a Algo) newHash() (hash.Hash, error) {
	switch a {
	case AlgoMD5:
		return md5.New(), nil
	case AlgoSHA256:
		return sha256.New(), nil
	case AlgoSHA512:
		return sha512.New(), nil
	case AlgoRIPEMD160:
		return ripemd160.New(), nil
	default:
		return nil, fmt.Errorf("crypto: unknown digest algorithm %q", a)
	}
}

// Digest is a computed hash tagged with the algorithm that produced it. Its
// Printable form ("ALGO=hex") is the canonical on-disk and wire
// representation used as a KV key and as a peer's long-term identity.
type Digest struct {
	Algo Algo
	Sum  []byte
}

// HashBytes computes the digest of data under algo.
func HashBytes(algo Algo, data []byte) (Digest, error) {
	h, err := algo.newHash()
	if err != nil {
		return Digest{}, err
	}
	h.Write(data)
	return Digest{Algo: algo, Sum: h.Sum(nil)}, nil
}

// HashStream computes the digest of everything read from r, without
// buffering the whole stream in memory — used for file and connection
// payload checksums.
func HashStream(algo Algo, r io.Reader) (Digest, error) {
	h, err := algo.newHash()
	if err != nil {
		return Digest{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	return Digest{Algo: algo, Sum: h.Sum(nil)}, nil
}

// HashPubkey computes the digest CFEngine uses as a host's identity key:
// the hash of the DER-encoded public key bytes.
func HashPubkey(algo Algo, pubkeyDER []byte) (Digest, error) {
	return HashBytes(algo, pubkeyDER)
}

// rsaMPInts is marshaled and unmarshaled through the SSH wire codec purely
// to get at its canonical mpint encoding of the modulus and exponent: RFC
// 4251 strips leading zero bytes (adding back a single 0x00 only when the
// high bit would otherwise flip the sign), which is exactly the
// canonicalization hash_pubkey needs and which math/big's own Bytes()
// does not guarantee on its own for a value handed in from elsewhere.
type rsaMPInts struct {
	Name string
	E    *big.Int
	N    *big.Int
}

// HashPubkeyRSA computes the digest CFEngine uses as a host's network
// identity: the hash of the concatenation of an RSA public key's modulus
// and exponent, each in big-endian canonical form with no leading zero
// bytes.
func HashPubkeyRSA(algo Algo, pub *rsa.PublicKey) (Digest, error) {
	wire := ssh.Marshal(rsaMPInts{Name: "ssh-rsa", E: big.NewInt(int64(pub.E)), N: pub.N})
	var canon rsaMPInts
	if err := ssh.Unmarshal(wire, &canon); err != nil {
		return Digest{}, fmt.Errorf("crypto: canonicalize rsa public key: %w", err)
	}
	return HashBytes(algo, append(canon.N.Bytes(), canon.E.Bytes()...))
}

// Printable renders d as "ALGO=hex", the form persisted in ppkeys and used
// as the lastseen/connection-cache map key.
func (d Digest) Printable() string {
	return fmt.Sprintf("%s=%s", strings.ToUpper(string(d.Algo)), hex.EncodeToString(d.Sum))
}

func (d Digest) String() string { return d.Printable() }

// SkipAlgoPrefix strips a leading "ALGO=" tag from s, returning the bare
// hex digest and the algorithm that was named. It returns ok=false if s
// does not contain a recognized prefix.
func SkipAlgoPrefix(s string) (algo Algo, hexDigest string, ok bool) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return "", "", false
	}
	switch strings.ToLower(s[:idx]) {
	case "md5":
		algo = AlgoMD5
	case "sha256":
		algo = AlgoSHA256
	case "sha512":
		algo = AlgoSHA512
	case "ripemd160":
		algo = AlgoRIPEMD160
	default:
		return "", "", false
	}
	return algo, s[idx+1:], true
}

// ParseDigest parses the Printable form back into a Digest.
func ParseDigest(s string) (Digest, error) {
	algo, hexDigest, ok := SkipAlgoPrefix(s)
	if !ok {
		return Digest{}, fmt.Errorf("crypto: malformed digest %q", s)
	}
	sum, err := hex.DecodeString(hexDigest)
	if err != nil {
		return Digest{}, fmt.Errorf("crypto: malformed digest %q: %w", s, err)
	}
	return Digest{Algo: algo, Sum: sum}, nil
}

// DeriveKey derives a session key via HKDF, used to turn a completed mTLS
// handshake's shared secret into the symmetric key that frames the rest of
// a connection's payload.
func DeriveKey(masterKey, salt []byte, info string, keyLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, masterKey, salt, []byte(info))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return key, nil
}

// GenerateRandomBytes returns n bytes read from the OS CSPRNG.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// HMACSign returns the HMAC-SHA256 of data under key.
func HMACSign(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// HMACVerify reports whether signature is the HMAC-SHA256 of data under key.
func HMACVerify(key, data, signature []byte) bool {
	return hmac.Equal(signature, HMACSign(key, data))
}

// Encrypt seals plaintext with AES-256-GCM, prepending the nonce.
func Encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func Decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("crypto: ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ct, nil)
}

// ZeroBytes overwrites b with zeros, best-effort defense against leaving
// key material in memory longer than needed.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// StrongPRNG is the OS-entropy-seeded generator used for key material,
// nonces, and anything whose predictability would be a security problem.
// It is a thin wrapper so call sites read "strong" vs "weak" at the point
// of use rather than burying the distinction in a shared rand.Rand.
type StrongPRNG struct{}

// Read fills p with cryptographically secure random bytes.
func (StrongPRNG) Read(p []byte) (int, error) { return rand.Read(p) }

// SeedFile persists and restores the strong PRNG's reseed material across
// restarts, analogous to the state/randseed file CFEngine keeps at 0600 so
// a restarted agent doesn't reuse a weak boot-time entropy pool.
type SeedFile struct {
	path string
	mu   sync.Mutex
}

// NewSeedFile wraps the seed file at path.
func NewSeedFile(path string) *SeedFile { return &SeedFile{path: path} }

// Reseed reads the persisted seed (if any), mixes in fresh OS entropy, and
// rewrites the file with a new seed, returning the bytes used to reseed
// this run's generator.
func (sf *SeedFile) Reseed(size int) ([]byte, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	fresh, err := GenerateRandomBytes(size)
	if err != nil {
		return nil, err
	}

	if existing, err := os.ReadFile(sf.path); err == nil {
		mixed := HMACSign(existing, fresh)
		if len(mixed) > size {
			mixed = mixed[:size]
		}
		for len(mixed) < size {
			mixed = append(mixed, mixed...)
		}
		fresh = mixed[:size]
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := os.WriteFile(sf.path, fresh, 0o600); err != nil {
		return nil, err
	}
	return fresh, nil
}

// WeakPRNG is the fast, non-cryptographic generator used for jitter,
// splay, and retry backoff, seeded from process-identifying values rather
// than OS entropy since predictability there has no security consequence
// and reseeding from /dev/urandom on every splay computation would be
// wasteful.
type WeakPRNG struct {
	r *rand.Rand
}

// NewWeakPRNG seeds a weak PRNG from pid, start time, hostname and the
// current time, mirroring the splay seed CFEngine derives per-host so
// that scheduled actions spread out across a population instead of
// firing in lockstep.
func NewWeakPRNG(pid int, startTimeUnix int64, hostname string, nowUnix int64) *WeakPRNG {
	var h uint64 = 1469598103934665603 // FNV offset basis
	mix := func(v uint64) {
		h ^= v
		h *= 1099511628211
	}
	mix(uint64(pid))
	mix(uint64(startTimeUnix))
	mix(uint64(nowUnix))
	for _, c := range hostname {
		mix(uint64(c))
	}
	return &WeakPRNG{r: rand.New(rand.NewPCG(h, h^0xa5a5a5a5a5a5a5a5))}
}

// Splay returns a deterministic jitter value in [0, window) for this PRNG's
// seed, used to offset a recurring action's execution within its window.
func (w *WeakPRNG) Splay(window int) int {
	if window <= 0 {
		return 0
	}
	return int(w.r.Uint64() % uint64(window))
}

// Intn returns a pseudo-random value in [0, n), suitable for Seq.Shuffle.
func (w *WeakPRNG) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(w.r.Uint64() % uint64(n))
}
