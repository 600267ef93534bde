package common

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const aesKeyInfo = "bridge private key encryption"

// AESKeyFromSecret turns an arbitrary operator secret into an AES-256 key.
func AESKeyFromSecret(secret string) []byte {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(aesKeyInfo))
	_, err := io.ReadFull(r, key)
	if err != nil {
		panic(err)
	}
	return key
}

func AESEncrypt(secret, b []byte) []byte {
	aes, err := aes.NewCipher(secret)
	if err != nil {
		panic(err)
	}
	aead, err := cipher.NewGCM(aes)
	if err != nil {
		panic(err)
	}
	nonce := make([]byte, aead.NonceSize())
	_, err = rand.Read(nonce)
	if err != nil {
		panic(err)
	}
	cipher := aead.Seal(nil, nonce, b, nil)
	return append(nonce, cipher...)
}

func AESDecrypt(secret, b []byte) ([]byte, error) {
	aes, err := aes.NewCipher(secret)
	if err != nil {
		panic(err)
	}
	aead, err := cipher.NewGCM(aes)
	if err != nil {
		panic(err)
	}
	if len(b) < aead.NonceSize() {
		return nil, fmt.Errorf("AESDecrypt(%x) => short cipher", b)
	}
	nonce := b[:aead.NonceSize()]
	cipher := b[aead.NonceSize():]
	d, err := aead.Open(nil, nonce, cipher, nil)
	if err != nil {
		return nil, fmt.Errorf("AESDecrypt() => %v", err)
	}
	return d, nil
}
