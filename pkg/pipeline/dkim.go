package pipeline

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/emersion/go-msgauth/dkim"

	"github.com/owlmail/owlmail/pkg/storage"
)

// KeyMaterial locates the on-disk DKIM artifacts for one selector.
type KeyMaterial struct {
	Selector       string
	PrivateKeyPath string
	PublicKeyPath  string
	DNSRecordPath  string
	PublicKey      string
}

// EnsureKeyMaterial loads or generates the ed25519 keypair for the
// selector under the mail root's dkim directory.  The private key is
// PKCS#8 PEM, the public key base64, and the .dns file holds the TXT
// record value to publish.
func EnsureKeyMaterial(layout *storage.Layout, selector string) (KeyMaterial, error) {
	material := KeyMaterial{
		Selector:       selector,
		PrivateKeyPath: layout.DKIMPrivateKey(selector),
		PublicKeyPath:  layout.DKIMPublicKey(selector),
		DNSRecordPath:  layout.DKIMDNSRecord(selector),
	}
	if err := os.MkdirAll(layout.DKIMDir(), 0o770); err != nil {
		return KeyMaterial{}, err
	}

	if _, err := os.Stat(material.PrivateKeyPath); os.IsNotExist(err) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return KeyMaterial{}, fmt.Errorf("generating DKIM keypair: %w", err)
		}
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return KeyMaterial{}, err
		}
		pemData := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
		if err := storage.WriteAtomic(material.PrivateKeyPath, pemData); err != nil {
			return KeyMaterial{}, err
		}
		if err := os.Chmod(material.PrivateKeyPath, 0o600); err != nil {
			return KeyMaterial{}, err
		}
		encoded := base64.StdEncoding.EncodeToString(pub)
		if err := storage.WriteAtomic(material.PublicKeyPath, []byte(encoded)); err != nil {
			return KeyMaterial{}, err
		}
	}

	publicKey, err := os.ReadFile(material.PublicKeyPath)
	if err != nil {
		return KeyMaterial{}, fmt.Errorf("reading DKIM public key: %w", err)
	}
	material.PublicKey = string(bytes.TrimSpace(publicKey))

	record := []byte("v=DKIM1; k=ed25519; p=" + material.PublicKey)
	existing, err := os.ReadFile(material.DNSRecordPath)
	if err != nil || !bytes.Equal(bytes.TrimSpace(existing), record) {
		if err := storage.WriteAtomic(material.DNSRecordPath, record); err != nil {
			return KeyMaterial{}, err
		}
	}
	return material, nil
}

// Signer signs outbound messages with the configured selector and
// domain.  Key problems are hard failures, reported distinctly from
// transport errors.
type Signer struct {
	domain   string
	selector string
	key      ed25519.PrivateKey
}

// NewSigner parses the private key referenced by material.
func NewSigner(material KeyMaterial, domain string) (*Signer, error) {
	pemData, err := os.ReadFile(material.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading DKIM private key: %w", err)
	}
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("DKIM private key %s is not PEM", material.PrivateKeyPath)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing DKIM private key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("DKIM private key %s is not ed25519", material.PrivateKeyPath)
	}
	return &Signer{domain: domain, selector: material.Selector, key: key}, nil
}

// Sign returns the message with a DKIM-Signature header prepended.
func (s *Signer) Sign(raw []byte) ([]byte, error) {
	options := &dkim.SignOptions{
		Domain:   s.domain,
		Selector: s.selector,
		Signer:   s.key,
		HeaderKeys: []string{
			"From", "To", "Cc", "Subject", "Date", "Message-ID", "MIME-Version", "Content-Type",
		},
	}
	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(raw), options); err != nil {
		return nil, fmt.Errorf("signing message: %w", err)
	}
	return signed.Bytes(), nil
}
