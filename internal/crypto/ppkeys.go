package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"os"
)

// RSAKeyBits is the modulus size cf-agent generates a new host identity
// key at, matching CFEngine's current default key size.
const RSAKeyBits = 2048

// KeyPair is a host's long-term RSA identity: the private key kept under
// ppkeys/ at 0600 and the digest of its public component, printable as
// this host's network identity key.
type KeyPair struct {
	Private *rsa.PrivateKey
	Digest  Digest
}

// LoadOrGenerateKeyPair loads the RSA keypair at privPath/pubPath,
// enforcing the private-key-file permission invariant (regular file,
// mode exactly 0600) and that the public key file's DER bytes match the
// private key's public component, or generates and persists a fresh
// keypair if neither file exists yet.
func LoadOrGenerateKeyPair(algo Algo, privPath, pubPath string) (*KeyPair, error) {
	priv, err := loadPrivateKey(privPath)
	switch {
	case err == nil:
		if verr := verifyPublicKeyFile(pubPath, &priv.PublicKey); verr != nil {
			return nil, verr
		}
	case os.IsNotExist(err):
		priv, err = generateKeyPair(privPath, pubPath)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	digest, err := HashPubkeyRSA(algo, &priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, Digest: digest}, nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() || info.Mode().Perm() != 0o600 {
		return nil, fmt.Errorf("crypto: private key %s must be a regular file with mode 0600, got %s", path, info.Mode())
	}
	der, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return x509.ParsePKCS1PrivateKey(der)
}

// verifyPublicKeyFile checks that pubPath is a regular 0600 file whose
// DER bytes are the canonical PKIX encoding of pub. A deviation in either
// permission or content is treated as a broken keypair, matching the
// ppkeys file-permission diagnostics CFEngine runs at startup.
func verifyPublicKeyFile(pubPath string, pub *rsa.PublicKey) error {
	info, err := os.Stat(pubPath)
	if err != nil {
		return fmt.Errorf("crypto: stat public key: %w", err)
	}
	if !info.Mode().IsRegular() || info.Mode().Perm() != 0o600 {
		return fmt.Errorf("crypto: public key %s must be a regular file with mode 0600, got %s", pubPath, info.Mode())
	}
	want, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return err
	}
	got, err := os.ReadFile(pubPath)
	if err != nil {
		return err
	}
	if len(got) != len(want) {
		return fmt.Errorf("crypto: public key %s does not match private key's public component", pubPath)
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("crypto: public key %s does not match private key's public component", pubPath)
		}
	}
	return nil
}

func generateKeyPair(privPath, pubPath string) (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(privPath, x509.MarshalPKCS1PrivateKey(priv), 0o600); err != nil {
		return nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(pubPath, pubDER, 0o600); err != nil {
		return nil, err
	}
	return priv, nil
}
