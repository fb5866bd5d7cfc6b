// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"

	"golang.org/x/crypto/sha3"

	"github.com/imatic-tech/opcua/errors"
	"github.com/imatic-tech/opcua/ua"
)

const basic256Sha256URI = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"

// key sizes for Basic256Sha256 (Part 7, Annex C.3).
const (
	b256SigningKeyLen    = 32
	b256EncryptingKeyLen = 32
	b256IVLen            = 16
	b256SymmetricSigLen  = 32 // HMAC-SHA256 output
	b256AsymmetricSigLen = 256 // RSA-2048 signature
)

// basic256Sha256Policy implements SecurityPolicy for
// http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256 (Part 7, Annex
// C.3). It owns key derivation, certificate matching, and the asymmetric
// (OPN) and symmetric (MSG) seal/open operations over the derived keys.
type basic256Sha256Policy struct {
	localCert []byte

	sha1Thumbprint  []byte // mandated primary check (Part 6, Sec 6.1)
	sha3Thumbprint  []byte // secondary integrity check layered on top
}

// NewBasic256Sha256Policy builds the policy around the local application
// certificate. cert may be nil for a policy instance used only to validate
// a remote certificate's thumbprint isn't required (e.g. client-side before
// a certificate is provisioned).
func NewBasic256Sha256Policy(cert []byte, _ interface{}) SecurityPolicy {
	p := &basic256Sha256Policy{localCert: cert}
	if len(cert) > 0 {
		sum1 := sha1.Sum(cert)
		p.sha1Thumbprint = sum1[:]
		sum3 := sha3.Sum256(cert)
		p.sha3Thumbprint = sum3[:]
	}
	return p
}

func (*basic256Sha256Policy) URI() string { return basic256Sha256URI }

func (*basic256Sha256Policy) AsymmetricOverhead() int { return b256AsymmetricSigLen }

// CompareCertificateThumbprint compares thumbprint against the SHA-1
// thumbprint of the local certificate mandated by Part 6; that is the only
// comparison against the peer's value. It then recomputes the SHA3-256 digest
// of the local certificate and checks it against the one stored at
// construction, which only detects the local certificate bytes changing
// since then; no SHA3-256 value from the peer is involved.
func (p *basic256Sha256Policy) CompareCertificateThumbprint(thumbprint []byte) bool {
	if len(p.sha1Thumbprint) == 0 {
		return false
	}
	if !bytes.Equal(thumbprint, p.sha1Thumbprint) {
		return false
	}
	sum3 := sha3.Sum256(p.localCert)
	return bytes.Equal(sum3[:], p.sha3Thumbprint)
}

// DeriveKeys implements the P_SHA256 pseudo-random function (Part 6, Sec
// 6.7.5) to expand a nonce pair into the six symmetric keys/IVs Basic256Sha256
// needs. This is a fixed OPC UA wire construction, not a library feature, so
// it is built directly on crypto/hmac + crypto/sha256.
func (p *basic256Sha256Policy) DeriveKeys(clientNonce, serverNonce []byte) (*SymmetricKeys, error) {
	if len(clientNonce) == 0 || len(serverNonce) == 0 {
		return nil, errors.New("uasc: basic256sha256 requires non-empty nonces")
	}
	total := b256SigningKeyLen + b256EncryptingKeyLen + b256IVLen

	clientMaterial := pSHA256(serverNonce, clientNonce, total)
	serverMaterial := pSHA256(clientNonce, serverNonce, total)

	return &SymmetricKeys{
		ClientSigningKey:    clientMaterial[0:b256SigningKeyLen],
		ClientEncryptingKey: clientMaterial[b256SigningKeyLen : b256SigningKeyLen+b256EncryptingKeyLen],
		ClientIV:            clientMaterial[b256SigningKeyLen+b256EncryptingKeyLen:],
		ServerSigningKey:    serverMaterial[0:b256SigningKeyLen],
		ServerEncryptingKey: serverMaterial[b256SigningKeyLen : b256SigningKeyLen+b256EncryptingKeyLen],
		ServerIV:            serverMaterial[b256SigningKeyLen+b256EncryptingKeyLen:],
	}, nil
}

func (*basic256Sha256Policy) SymmetricOverhead() int { return b256SymmetricSigLen + aes.BlockSize }

// SealAsymmetric signs header+plaintext with key (RSA-PSS/SHA-256), appends
// the signature, and encrypts the result in RSA-OAEP/SHA-256 blocks sized to
// remoteCert's key, for an OpenSecureChannel chunk body (Part 6, Sec 6.7.2).
func (*basic256Sha256Policy) SealAsymmetric(key *rsa.PrivateKey, remoteCert *x509.Certificate, header, plaintext []byte) ([]byte, error) {
	if key == nil {
		return nil, errors.New("uasc: basic256sha256 asymmetric seal requires a local private key")
	}
	pub, err := rsaPublicKey(remoteCert)
	if err != nil {
		return nil, err
	}
	sig, err := rsaSignPSS(key, header, plaintext)
	if err != nil {
		return nil, err
	}
	return rsaOAEPEncryptChunks(pub, append(append([]byte{}, plaintext...), sig...))
}

// OpenAsymmetric reverses SealAsymmetric: key decrypts the OAEP blocks,
// remoteCert verifies the trailing signature against header+plaintext.
func (*basic256Sha256Policy) OpenAsymmetric(key *rsa.PrivateKey, remoteCert *x509.Certificate, header, sealed []byte) ([]byte, error) {
	if key == nil {
		return nil, errors.New("uasc: basic256sha256 asymmetric open requires a local private key")
	}
	signed, err := rsaOAEPDecryptChunks(key, sealed)
	if err != nil {
		return nil, err
	}
	if len(signed) < b256AsymmetricSigLen {
		return nil, ua.StatusBadSecurityChecksFailed
	}
	plaintext := signed[:len(signed)-b256AsymmetricSigLen]
	sig := signed[len(signed)-b256AsymmetricSigLen:]

	pub, err := rsaPublicKey(remoteCert)
	if err != nil {
		return nil, err
	}
	if err := rsaVerifyPSS(pub, header, plaintext, sig); err != nil {
		return nil, ua.StatusBadSecurityChecksFailed
	}
	return plaintext, nil
}

// SealSymmetric PKCS7-pads and AES-256-CBC encrypts plaintext using the
// sender's derived keys, then appends an HMAC-SHA256 over header+ciphertext
// (Part 6, Sec 6.7.3: encrypt, then sign).
func (*basic256Sha256Policy) SealSymmetric(keys *SymmetricKeys, fromClient bool, header, plaintext []byte) ([]byte, error) {
	encKey, sigKey, iv := symmetricSenderKeys(keys, fromClient)
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac := hmacSHA256(sigKey, append(append([]byte{}, header...), ciphertext...))
	return append(ciphertext, mac...), nil
}

// OpenSymmetric reverses SealSymmetric, verifying the HMAC before decrypting.
func (*basic256Sha256Policy) OpenSymmetric(keys *SymmetricKeys, fromClient bool, header, sealed []byte) ([]byte, error) {
	if len(sealed) < b256SymmetricSigLen+aes.BlockSize {
		return nil, ua.StatusBadSecurityChecksFailed
	}
	ciphertext := sealed[:len(sealed)-b256SymmetricSigLen]
	mac := sealed[len(sealed)-b256SymmetricSigLen:]

	encKey, sigKey, iv := symmetricSenderKeys(keys, fromClient)
	want := hmacSHA256(sigKey, append(append([]byte{}, header...), ciphertext...))
	if !hmac.Equal(mac, want) {
		return nil, ua.StatusBadSecurityChecksFailed
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ua.StatusBadSecurityChecksFailed
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

// symmetricSenderKeys picks the encrypting/signing key and IV the message's
// originator signed with: the Client* triple when the message came from the
// client, the Server* triple otherwise. Both sides of a channel agree on
// fromClient from context (who is sending vs. receiving), not from their own
// isServer flag.
func symmetricSenderKeys(keys *SymmetricKeys, fromClient bool) (encKey, sigKey, iv []byte) {
	if fromClient {
		return keys.ClientEncryptingKey, keys.ClientSigningKey, keys.ClientIV
	}
	return keys.ServerEncryptingKey, keys.ServerSigningKey, keys.ServerIV
}

func rsaPublicKey(cert *x509.Certificate) (*rsa.PublicKey, error) {
	if cert == nil {
		return nil, errors.New("uasc: basic256sha256 requires a peer certificate")
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("uasc: basic256sha256 requires an RSA certificate")
	}
	return pub, nil
}

func rsaSignPSS(key *rsa.PrivateKey, header, plaintext []byte) ([]byte, error) {
	digest := sha256.Sum256(append(append([]byte{}, header...), plaintext...))
	return rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], nil)
}

func rsaVerifyPSS(pub *rsa.PublicKey, header, plaintext, sig []byte) error {
	digest := sha256.Sum256(append(append([]byte{}, header...), plaintext...))
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, nil)
}

// rsaOAEPEncryptChunks splits plaintext into blocks sized to leave room for
// OAEP/SHA-256 overhead and encrypts each with pub, since RSA only ever
// encrypts a single block shorter than its modulus.
func rsaOAEPEncryptChunks(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	maxBlock := pub.Size() - 2*sha256.Size - 2
	if maxBlock <= 0 {
		return nil, errors.New("uasc: RSA key too small for OAEP/SHA-256")
	}
	var out []byte
	for len(plaintext) > 0 {
		n := maxBlock
		if n > len(plaintext) {
			n = len(plaintext)
		}
		block, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext[:n], nil)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		plaintext = plaintext[n:]
	}
	return out, nil
}

// rsaOAEPDecryptChunks reverses rsaOAEPEncryptChunks, one modulus-sized block
// of ciphertext at a time.
func rsaOAEPDecryptChunks(key *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	size := key.PublicKey.Size()
	if size == 0 || len(ciphertext)%size != 0 {
		return nil, ua.StatusBadSecurityChecksFailed
	}
	var out []byte
	for len(ciphertext) > 0 {
		block, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext[:size], nil)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		ciphertext = ciphertext[size:]
	}
	return out, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ua.StatusBadSecurityChecksFailed
	}
	n := int(data[len(data)-1])
	if n == 0 || n > len(data) {
		return nil, ua.StatusBadSecurityChecksFailed
	}
	return data[:len(data)-n], nil
}

// pSHA256 implements the P_SHA256(secret, seed) keyed-hash stream (Part 6,
// Sec 6.7.5 / RFC 5246 Sec 5), truncated to length bytes.
func pSHA256(secret, seed []byte, length int) []byte {
	out := make([]byte, 0, length+sha256.Size)
	a := hmacSHA256(secret, seed)
	for len(out) < length {
		out = append(out, hmacSHA256(secret, append(append([]byte{}, a...), seed...))...)
		a = hmacSHA256(secret, a)
	}
	return out[:length]
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// parseCertificate is a small helper kept for callers (e.g. tests) that
// want to build a policy from a DER certificate directly.
func parseCertificate(der []byte) (*x509.Certificate, error) {
	return x509.ParseCertificate(der)
}
