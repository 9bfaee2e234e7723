package auth

import (
	"bytes"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/afero"
	"golang.org/x/crypto/pkcs12"

	svn "github.com/cespedes/svnra"
)

// CertInfo describes cert for a server trust prompt.
func CertInfo(cert *x509.Certificate) *SSLServerCertInfo {
	sum := sha1.Sum(cert.Raw)
	fp := make([]string, len(sum))
	for i, b := range sum {
		fp[i] = fmt.Sprintf("%02x", b)
	}
	hostname := cert.Subject.CommonName
	if len(cert.DNSNames) > 0 {
		hostname = cert.DNSNames[0]
	}
	return &SSLServerCertInfo{
		Hostname:    hostname,
		Fingerprint: strings.Join(fp, ":"),
		ValidFrom:   cert.NotBefore.UTC().Format(time.RFC1123),
		ValidUntil:  cert.NotAfter.UTC().Format(time.RFC1123),
		IssuerDName: cert.Issuer.String(),
		ASCIICert:   base64.StdEncoding.EncodeToString(cert.Raw),
	}
}

// VerifyFailures checks the certificate chain presented by host and
// returns the SSL failure bits found.  A nil roots uses the system pool.
func VerifyFailures(chain []*x509.Certificate, host string, roots *x509.CertPool, now time.Time) uint32 {
	if len(chain) == 0 {
		return SSLOther
	}
	leaf := chain[0]
	var failures uint32
	at := now
	if now.Before(leaf.NotBefore) {
		failures |= SSLNotYetValid
		at = leaf.NotBefore
	}
	if now.After(leaf.NotAfter) {
		failures |= SSLExpired
		at = leaf.NotAfter
	}
	if leaf.VerifyHostname(host) != nil {
		failures |= SSLCNMismatch
	}
	intermediates := x509.NewCertPool()
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
	})
	var unknown x509.UnknownAuthorityError
	switch {
	case err == nil:
	case errors.As(err, &unknown):
		failures |= SSLUnknownCA
	default:
		failures |= SSLOther
	}
	return failures
}

// TLSConfig returns a client configuration for serverName which, instead
// of failing on an untrusted certificate, negotiates KindSSLServer
// credentials with b, and obtains client certificates by negotiating
// KindSSLClientCert credentials.  Certificate files are read from fs.
// Certificates are verified against RootCAs of the returned config, or
// the system pool if it is left nil.
func TLSConfig(b *Baton, fs afero.Fs, realm, serverName string) *tls.Config {
	cfg := &tls.Config{
		ServerName: serverName,
		// Verification happens in VerifyConnection.
		InsecureSkipVerify: true,
	}
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		return verifyServer(b, realm, serverName, cfg.RootCAs, cs.PeerCertificates)
	}
	cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
		return clientCertificate(b, fs, realm)
	}
	return cfg
}

func verifyServer(b *Baton, realm, host string, roots *x509.CertPool, chain []*x509.Certificate) error {
	failures := VerifyFailures(chain, host, roots, time.Now())
	if failures == 0 {
		return nil
	}
	if len(chain) == 0 {
		return svn.Errorf(svn.ErrCodeAuthnFailed, "server %s presented no certificate", host)
	}
	glog.V(1).Infof("auth: certificate for %s has failures %#x", host, failures)
	params := map[string]any{
		ParamSSLServerFailures: failures,
		ParamSSLServerCertInfo: CertInfo(chain[0]),
	}
	_, err := b.NegotiateWith(KindSSLServer, realm, params, func(c Credentials) (Verdict, error) {
		if trust, ok := c.(SSLServerTrust); ok && trust.Accepts(failures) {
			return Accepted, nil
		}
		return Rejected, nil
	})
	if err != nil {
		return svn.Wrap(err, svn.ErrCodeAuthnFailed, "server certificate verification failed for %s", host)
	}
	return nil
}

func clientCertificate(b *Baton, fs afero.Fs, realm string) (*tls.Certificate, error) {
	var cert tls.Certificate
	_, err := b.Negotiate(KindSSLClientCert, realm, func(c Credentials) (Verdict, error) {
		cc, ok := c.(SSLClientCertCredentials)
		if !ok {
			return Rejected, nil
		}
		var err error
		cert, err = LoadClientCertificate(fs, cc.Path, cc.Passphrase)
		if err != nil {
			glog.Warningf("auth: %v", err)
			return Rejected, nil
		}
		return Accepted, nil
	})
	if svn.ErrorCode(err) == svn.ErrCodeAuthnNoProvider {
		// Send no certificate; the server decides.
		return &tls.Certificate{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// LoadClientCertificate reads a client certificate and its key from path,
// either a PEM file holding both or a PKCS#12 file unlocked by
// passphrase.
func LoadClientCertificate(fs afero.Fs, path, passphrase string) (tls.Certificate, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return tls.Certificate{}, err
	}
	if bytes.Contains(data, []byte("-----BEGIN")) {
		cert, err := tls.X509KeyPair(data, data)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("loading %s: %w", path, err)
		}
		return cert, nil
	}
	key, leaf, err := pkcs12.Decode(data, passphrase)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
