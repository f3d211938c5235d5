package fiscal

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"

	"backoffice/internal/keyvault"
)

// CredentialSource returns a tenant's encrypted signing credential, or nil
// when the tenant has none.
type CredentialSource interface {
	SigningCredential(ctx context.Context, tenantID int64) ([]byte, error)
}

// Envelope is a canonical payload with its detached RSA-SHA256 signature.
type Envelope struct {
	Payload     []byte
	Digest      []byte
	Signature   []byte
	Fingerprint string
}

// Marshal wraps the payload and a <Signature> block in a <SignedInvoice> root.
func (e *Envelope) Marshal() []byte {
	body := bytes.TrimPrefix(e.Payload, []byte(xmlHeader))
	var b bytes.Buffer
	b.WriteString(xmlHeader)
	b.WriteString("<SignedInvoice>")
	b.Write(body)
	b.WriteString(`<Signature Algorithm="RSA-SHA256">`)
	b.WriteString("<DigestValue>" + base64.StdEncoding.EncodeToString(e.Digest) + "</DigestValue>")
	b.WriteString("<SignatureValue>" + base64.StdEncoding.EncodeToString(e.Signature) + "</SignatureValue>")
	b.WriteString("<KeyFingerprint>" + e.Fingerprint + "</KeyFingerprint>")
	b.WriteString("</Signature></SignedInvoice>")
	return b.Bytes()
}

// SignPayload signs the SHA-256 digest of payload with PKCS#1 v1.5.
func SignPayload(key *rsa.PrivateKey, payload []byte) (*Envelope, error) {
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}
	fp, err := Fingerprint(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Envelope{Payload: payload, Digest: digest[:], Signature: sig, Fingerprint: fp}, nil
}

// VerifyEnvelope recomputes the digest of the payload and checks the signature.
func VerifyEnvelope(env *Envelope, pub *rsa.PublicKey) error {
	digest := sha256.Sum256(env.Payload)
	if !bytes.Equal(digest[:], env.Digest) {
		return errors.New("digest does not match payload")
	}
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], env.Signature)
}

// Fingerprint is hex SHA-256 of the PKIX-encoded public key.
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to encode public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:]), nil
}

// ParsePrivateKey reads a PEM encoded RSA key in PKCS#8 or PKCS#1 form.
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("credential is not PEM encoded")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	k, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("credential holds a %T, want RSA", parsed)
	}
	return k, nil
}

// CredentialSigner implements core.DocumentSigner. Credentials are decrypted
// with the configured keyvault keys, newest first.
type CredentialSigner struct {
	creds CredentialSource
	keys  [][]byte
}

func NewCredentialSigner(creds CredentialSource, keys [][]byte) *CredentialSigner {
	return &CredentialSigner{creds: creds, keys: keys}
}

func (s *CredentialSigner) Sign(ctx context.Context, tenantID int64, payload []byte) ([]byte, bool, error) {
	blob, err := s.creds.SigningCredential(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	if len(blob) == 0 {
		return payload, false, nil
	}

	res, err := keyvault.DecryptWithFallback(blob, s.keys)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decrypt signing credential: %w", err)
	}
	key, err := ParsePrivateKey(res.Plaintext)
	if err != nil {
		return nil, false, err
	}
	env, err := SignPayload(key, payload)
	if err != nil {
		return nil, false, err
	}
	return env.Marshal(), true, nil
}
