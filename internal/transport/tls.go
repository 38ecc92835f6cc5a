package transport

import (
	"bytes"
	"crypto/tls"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// LoadCertificate loads a certificate and private key from file.
// PEM files must hold both the certificate chain and the key.
// Any other content is decoded as PKCS#12 with password.
func LoadCertificate(file, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read certificate %s: %w", file, err)
	}

	if bytes.Contains(data, []byte("-----BEGIN")) {
		cert, err := tls.X509KeyPair(data, data)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("parse PEM certificate %s: %w", file, err)
		}
		return cert, nil
	}

	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode PKCS#12 certificate %s: %w", file, err)
	}
	var certPEM, keyPEM []byte
	for _, b := range blocks {
		encoded := pem.EncodeToMemory(b)
		if b.Type == "CERTIFICATE" {
			certPEM = append(certPEM, encoded...)
		} else {
			keyPEM = append(keyPEM, encoded...)
		}
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse PKCS#12 certificate %s: %w", file, err)
	}
	return cert, nil
}

func serverTLSConfig(o *Options) *tls.Config {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{*o.Certificate},
		MinVersion:   tls.VersionTLS12,
	}
	if o.MutuallyAuthenticate {
		if o.AcceptInvalidCertificates || o.RootCAs == nil {
			cfg.ClientAuth = tls.RequireAnyClientCert
		} else {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
			cfg.ClientCAs = o.RootCAs
		}
	}
	return cfg
}

func clientTLSConfig(o *Options, serverName string) *tls.Config {
	cfg := &tls.Config{
		ServerName:         serverName,
		RootCAs:            o.RootCAs,
		InsecureSkipVerify: o.AcceptInvalidCertificates,
		MinVersion:         tls.VersionTLS12,
	}
	if o.MutuallyAuthenticate && o.Certificate != nil {
		cfg.Certificates = []tls.Certificate{*o.Certificate}
	}
	return cfg
}
