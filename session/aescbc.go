package session

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/arcanumlabs/ratchet/errkind"
)

// pkcs7Pad pads plaintext to a multiple of blockSize per PKCS#7.
func pkcs7Pad(plaintext []byte, blockSize int) []byte {
	padLen := blockSize - len(plaintext)%blockSize
	out := make([]byte, len(plaintext)+padLen)
	copy(out, plaintext)
	for i := len(plaintext); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

// pkcs7Unpad strips and validates PKCS#7 padding.
func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 || len(b)%aes.BlockSize != 0 {
		return nil, errkind.New(errkind.InvalidMessage, "pkcs7: bad ciphertext length")
	}
	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(b) {
		return nil, errkind.New(errkind.InvalidMessage, "pkcs7: bad padding length")
	}
	for _, c := range b[len(b)-padLen:] {
		if int(c) != padLen {
			return nil, errkind.New(errkind.InvalidMessage, "pkcs7: bad padding bytes")
		}
	}
	return b[:len(b)-padLen], nil
}

// aesCBCEncrypt encrypts plaintext with AES-256-CBC, PKCS#7 padded.
func aesCBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidKey, "aes-cbc: new cipher", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// aesCBCDecrypt decrypts and PKCS#7-strips ciphertext.
func aesCBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errkind.New(errkind.InvalidMessage, "aes-cbc: bad ciphertext length")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidKey, "aes-cbc: new cipher", err)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out)
}
