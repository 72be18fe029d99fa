// Package artifact encrypts and publishes the outputs of a refine run.
package artifact

import (
	"crypto"
	_ "crypto/sha512"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
)

// EncryptedSuffix is appended to the encrypted copy of a file.
const EncryptedSuffix = ".pgp"

// ErrEmptyKey is returned when no passphrase is configured.
var ErrEmptyKey = errors.New("artifact: empty encryption key")

// pgpConfig selects AES-256, SHA-512 key derivation and ZLIB compression.
func pgpConfig() *packet.Config {
	return &packet.Config{
		DefaultCipher:          packet.CipherAES256,
		DefaultHash:            crypto.SHA512,
		DefaultCompressionAlgo: packet.CompressionZLIB,
		CompressionConfig:      &packet.CompressionConfig{Level: packet.DefaultCompression},
	}
}

// Encrypt writes an ASCII-armored, passphrase-encrypted OpenPGP message of
// src to dst.
func Encrypt(dst io.Writer, src io.Reader, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	aw, err := armor.Encode(dst, "PGP MESSAGE", nil)
	if err != nil {
		return fmt.Errorf("artifact: armor: %w", err)
	}
	pw, err := openpgp.SymmetricallyEncrypt(aw, []byte(key), &openpgp.FileHints{IsBinary: true}, pgpConfig())
	if err != nil {
		_ = aw.Close()
		return fmt.Errorf("artifact: encrypt: %w", err)
	}
	if _, err := io.Copy(pw, src); err != nil {
		_ = pw.Close()
		_ = aw.Close()
		return fmt.Errorf("artifact: encrypt: %w", err)
	}
	if err := pw.Close(); err != nil {
		_ = aw.Close()
		return fmt.Errorf("artifact: encrypt: %w", err)
	}
	if err := aw.Close(); err != nil {
		return fmt.Errorf("artifact: armor: %w", err)
	}
	return nil
}

// Decrypt reverses Encrypt.
func Decrypt(dst io.Writer, src io.Reader, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	block, err := armor.Decode(src)
	if err != nil {
		return fmt.Errorf("artifact: armor: %w", err)
	}

	tried := false
	prompt := func([]openpgp.Key, bool) ([]byte, error) {
		if tried {
			return nil, errors.New("artifact: wrong encryption key")
		}
		tried = true
		return []byte(key), nil
	}
	md, err := openpgp.ReadMessage(block.Body, nil, prompt, pgpConfig())
	if err != nil {
		return fmt.Errorf("artifact: decrypt: %w", err)
	}
	if _, err := io.Copy(dst, md.UnverifiedBody); err != nil {
		return fmt.Errorf("artifact: decrypt: %w", err)
	}
	// Reading to EOF verifies the modification detection code.
	if md.SignatureError != nil {
		return fmt.Errorf("artifact: decrypt: %w", md.SignatureError)
	}
	return nil
}

// EncryptFile encrypts path to path+".pgp" and returns the new path.
func EncryptFile(key, path string) (string, error) {
	out := path + EncryptedSuffix
	if err := transformFile(path, out, func(w io.Writer, r io.Reader) error { return Encrypt(w, r, key) }); err != nil {
		return "", err
	}
	return out, nil
}

// DecryptFile decrypts path into path without its ".pgp" suffix plus
// ".decrypted", and returns the new path.
func DecryptFile(key, path string) (string, error) {
	out := strings.TrimSuffix(path, EncryptedSuffix) + ".decrypted"
	if err := transformFile(path, out, func(w io.Writer, r io.Reader) error { return Decrypt(w, r, key) }); err != nil {
		return "", err
	}
	return out, nil
}

func transformFile(in, out string, fn func(io.Writer, io.Reader) error) (err error) {
	src, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("artifact: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(out)
		}
	}()
	return fn(dst, src)
}
