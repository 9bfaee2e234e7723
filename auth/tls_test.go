package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/spf13/afero"
)

// selfSigned returns a PEM file holding a self-signed certificate for
// hosts and its key.
func selfSigned(t *testing.T, notBefore, notAfter time.Time, hosts ...string) ([]byte, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.Equal(t, err, nil)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: hosts[0], Organization: []string{"svnra test"}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	assert.Equal(t, err, nil)
	cert, err := x509.ParseCertificate(der)
	assert.Equal(t, err, nil)
	keyDER, err := x509.MarshalECPrivateKey(key)
	assert.Equal(t, err, nil)
	file := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	file = append(file, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})...)
	return file, cert
}

func TestVerifyFailures(t *testing.T) {
	now := time.Now()
	_, cert := selfSigned(t, now.Add(-48*time.Hour), now.Add(-24*time.Hour), "svn.example.com")

	failures := VerifyFailures([]*x509.Certificate{cert}, "other.example.com", x509.NewCertPool(), now)
	assert.Equal(t, failures, SSLExpired|SSLCNMismatch|SSLUnknownCA)

	roots := x509.NewCertPool()
	roots.AddCert(cert)
	failures = VerifyFailures([]*x509.Certificate{cert}, "svn.example.com", roots, now.Add(-36*time.Hour))
	assert.Equal(t, failures, uint32(0))

	failures = VerifyFailures([]*x509.Certificate{cert}, "svn.example.com", roots, now.Add(-72*time.Hour))
	assert.Equal(t, failures, SSLNotYetValid)

	assert.Equal(t, VerifyFailures(nil, "x", nil, now), SSLOther)
}

func TestCertInfo(t *testing.T) {
	_, cert := selfSigned(t, time.Now(), time.Now().Add(time.Hour), "svn.example.com")
	info := CertInfo(cert)
	assert.Equal(t, info.Hostname, "svn.example.com")
	assert.Equal(t, len(info.Fingerprint), 59)
	assert.Equal(t, info.IssuerDName, "CN=svn.example.com,O=svnra test")

	c := info.Clone()
	c.Hostname = "changed"
	assert.Equal(t, info.Hostname, "svn.example.com")
}

// handshake runs a TLS server on a loopback listener for one connection
// and returns the client's handshake error and the client certificates
// the server saw.
func handshake(t *testing.T, server *tls.Config, client *tls.Config) ([]*x509.Certificate, error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Equal(t, err, nil)
	defer ln.Close()
	seen := make(chan []*x509.Certificate, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			seen <- nil
			return
		}
		defer c.Close()
		s := tls.Server(c, server)
		s.Handshake()
		seen <- s.ConnectionState().PeerCertificates
	}()
	c, err := net.Dial("tcp", ln.Addr().String())
	assert.Equal(t, err, nil)
	defer c.Close()
	cc := tls.Client(c, client)
	err = cc.Handshake()
	cc.Close()
	return <-seen, err
}

func clientConfig(b *Baton, fs afero.Fs, realm string, roots *x509.CertPool) *tls.Config {
	cfg := TLSConfig(b, fs, realm, "127.0.0.1")
	cfg.RootCAs = roots
	return cfg
}

func TestTLSServerTrust(t *testing.T) {
	file, _ := selfSigned(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "127.0.0.1")
	pair, err := tls.X509KeyPair(file, file)
	assert.Equal(t, err, nil)
	server := &tls.Config{Certificates: []tls.Certificate{pair}}

	store := NewMemoryStore()
	fs := afero.NewMemMapFs()
	const realm = "https://127.0.0.1:443"

	var asked []uint32
	reject := SSLServerTrustPromptProvider(func(realm string, failures uint32, info *SSLServerCertInfo, maySave bool) (*SSLServerTrust, error) {
		asked = append(asked, failures)
		return nil, nil
	})
	b := Open([]Provider{SSLServerTrustFileProvider(store), reject})
	_, err = handshake(t, server, clientConfig(b, fs, realm, x509.NewCertPool()))
	assert.NotEqual(t, err, nil)
	assert.Equal(t, asked, []uint32{SSLUnknownCA})

	accept := SSLServerTrustPromptProvider(func(realm string, failures uint32, info *SSLServerCertInfo, maySave bool) (*SSLServerTrust, error) {
		return &SSLServerTrust{AcceptedFailures: failures, MaySave: true}, nil
	})
	b = Open([]Provider{SSLServerTrustFileProvider(store), accept})
	_, err = handshake(t, server, clientConfig(b, fs, realm, x509.NewCertPool()))
	assert.Equal(t, err, nil)

	// Accepted permanently: a later session trusts it without asking.
	b = Open([]Provider{SSLServerTrustFileProvider(store), reject})
	_, err = handshake(t, server, clientConfig(b, fs, realm, x509.NewCertPool()))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(asked), 1)
}

func TestTLSClientCertificate(t *testing.T) {
	serverFile, serverCert := selfSigned(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "127.0.0.1")
	pair, err := tls.X509KeyPair(serverFile, serverFile)
	assert.Equal(t, err, nil)
	server := &tls.Config{Certificates: []tls.Certificate{pair}, ClientAuth: tls.RequireAnyClientCert}

	fs := afero.NewMemMapFs()
	clientFile, clientCert := selfSigned(t, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), "harry")
	assert.Equal(t, afero.WriteFile(fs, "/certs/harry.pem", clientFile, 0o600), nil)
	assert.Equal(t, afero.WriteFile(fs, "/certs/garbage.pem", []byte("-----BEGIN nothing"), 0o600), nil)

	roots := x509.NewCertPool()
	roots.AddCert(serverCert)
	paths := []string{"/certs/garbage.pem", "/certs/harry.pem"}
	prompt := SSLClientCertPromptProvider(func(realm string, maySave bool) (*SSLClientCertCredentials, error) {
		p := paths[0]
		paths = paths[1:]
		return &SSLClientCertCredentials{Path: p}, nil
	}, 2)
	peer, err := handshake(t, server, clientConfig(Open([]Provider{prompt}), fs, "realm", roots))
	assert.Equal(t, err, nil)
	assert.Equal(t, len(peer), 1)
	assert.Equal(t, peer[0].Equal(clientCert), true)
}
