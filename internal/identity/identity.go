package identity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/sha3"
)

// Keypair utility for the downstream vote-signing flow. The certification
// protocol itself never signs anything; it only needs a stable peer id,
// which is derived from the public key.

const RSABits = 2048

// Signer and Verifier are what the voting layer consumes. Kept as
// interfaces so a remote or hardware-backed key can replace the local
// RSA implementation.
type Signer interface {
	PublicKey() []byte
	Sign(msg []byte) ([]byte, error)
}

type Verifier interface {
	Verify(pub, msg, sig []byte) bool
}

func Generate() (pub, priv []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, RSABits)
	if err != nil {
		return nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	return pubDER, privDER, nil
}

// PeerID derives the stable peer id from a public key: hex of SHA3-256.
func PeerID(pub []byte) string {
	sum := sha3.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

func Sign(priv, msg []byte) ([]byte, error) {
	key, err := parsePrivate(priv)
	if err != nil {
		return nil, err
	}
	digest := sha3.Sum256(msg)
	return rsa.SignPSS(rand.Reader, key, crypto.SHA3_256, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
}

func Verify(pub, msg, sig []byte) bool {
	key, err := parsePublic(pub)
	if err != nil {
		return false
	}
	digest := sha3.Sum256(msg)
	return rsa.VerifyPSS(key, crypto.SHA3_256, digest[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}) == nil
}

func parsePublic(pub []byte) (*rsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not rsa public key")
	}
	return rsaKey, nil
}

func parsePrivate(priv []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not rsa private key")
	}
	return rsaKey, nil
}

func Save(dir string, pub, priv []byte) error {
	if len(pub) == 0 || len(priv) == 0 {
		return errors.New("empty key")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "pub.hex"), []byte(hex.EncodeToString(pub)), 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "priv.hex"), []byte(hex.EncodeToString(priv)), 0600)
}

func Load(dir string) (pub, priv []byte, err error) {
	pubHex, err := os.ReadFile(filepath.Join(dir, "pub.hex"))
	if err != nil {
		return nil, nil, err
	}
	privHex, err := os.ReadFile(filepath.Join(dir, "priv.hex"))
	if err != nil {
		return nil, nil, err
	}
	pub, err = hex.DecodeString(string(pubHex))
	if err != nil {
		return nil, nil, fmt.Errorf("bad pub.hex")
	}
	priv, err = hex.DecodeString(string(privHex))
	if err != nil {
		return nil, nil, fmt.Errorf("bad priv.hex")
	}
	return pub, priv, nil
}

// Ensure loads the keypair in dir, generating one on first use.
func Ensure(dir string) (pub, priv []byte, err error) {
	pub, priv, err = Load(dir)
	if err == nil {
		return pub, priv, nil
	}
	pub, priv, err = Generate()
	if err != nil {
		return nil, nil, err
	}
	if err := Save(dir, pub, priv); err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}
