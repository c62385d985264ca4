// Package testutil holds helpers shared by tests and the self-signed
// fallback path of the server command.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// GenerateSelfSignedCertKeyPEM generates a self-signed X.509 certificate and
// private key as PEM-encoded byte slices. The certificate always covers
// localhost and 127.0.0.1; hostname adds one more DNS name or IP address.
func GenerateSelfSignedCertKeyPEM(hostname string) (certPEM, keyPEM []byte, err error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("generating serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"h3probe"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if !ip.Equal(net.ParseIP("127.0.0.1")) {
			template.IPAddresses = append(template.IPAddresses, ip)
		}
	} else if hostname != "" && hostname != "localhost" {
		template.DNSNames = append(template.DNSNames, hostname)
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("creating certificate: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	privBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling key: %w", err)
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	return certPEM, keyPEM, nil
}

// SelfSignedTLSConfig builds a server TLS config carrying a freshly
// generated self-signed certificate for hostname.
func SelfSignedTLSConfig(hostname string) (*tls.Config, error) {
	certPEM, keyPEM, err := GenerateSelfSignedCertKeyPEM(hostname)
	if err != nil {
		return nil, err
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("assembling key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// GenerateSelfSignedCertKeyFiles writes a generated certificate and key into
// t.TempDir() and returns their paths.
func GenerateSelfSignedCertKeyFiles(t *testing.T, hostname string) (certFilePath, keyFilePath string, err error) {
	t.Helper()
	certPEM, keyPEM, err := GenerateSelfSignedCertKeyPEM(hostname)
	if err != nil {
		return "", "", err
	}

	dir := t.TempDir()
	certFilePath = filepath.Join(dir, "cert.pem")
	if err := os.WriteFile(certFilePath, certPEM, 0600); err != nil {
		return "", "", err
	}
	keyFilePath = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(keyFilePath, keyPEM, 0600); err != nil {
		return "", "", err
	}
	return certFilePath, keyFilePath, nil
}
