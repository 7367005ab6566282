package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/kitsuhttp/rawhttp/pkg/timing"
	"github.com/kitsuhttp/rawhttp/pkg/tlsconfig"
)

func listenTCP(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if isPerm(err) {
			t.Skip("network sockets not permitted in sandbox")
		}
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func isPerm(err error) bool {
	if err == nil {
		return false
	}
	if op, ok := err.(*net.OpError); ok {
		if se, ok := op.Err.(*os.SyscallError); ok && se.Err == syscall.EPERM {
			return true
		}
		if strings.Contains(op.Err.Error(), "operation not permitted") {
			return true
		}
	}
	return strings.Contains(err.Error(), "operation not permitted")
}

func generateSelfSigned() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return tls.X509KeyPair(certPEM, keyPEM)
}

func TestDialDirect(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hi"))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	d := NewDialer()
	timer := timing.NewTimer()
	conn, err := d.DialDirect(context.Background(), "127.0.0.1", addr.Port, 2*time.Second, timer)
	if err != nil {
		t.Fatalf("dial direct: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 2)
	if _, err := readFull(conn, buf); err != nil || string(buf) != "hi" {
		t.Fatalf("got %q, err=%v", buf, err)
	}
}

func TestUpgradeTLS(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()

	cert, err := generateSelfSigned()
	if err != nil {
		t.Fatalf("generate cert: %v", err)
	}
	tlsLn := tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})

	go func() {
		conn, err := tlsLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("secure"))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	d := NewDialer()
	timer := timing.NewTimer()
	plain, err := d.DialDirect(context.Background(), "127.0.0.1", addr.Port, 2*time.Second, timer)
	if err != nil {
		t.Fatalf("dial direct: %v", err)
	}

	cfg, err := tlsconfig.BuildConfig(tlsconfig.Params{Host: "127.0.0.1", InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("build tls config: %v", err)
	}
	conn, err := d.UpgradeTLS(context.Background(), plain, "127.0.0.1", addr.Port, cfg, 2*time.Second, timer)
	if err != nil {
		t.Fatalf("upgrade tls: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 6)
	if _, err := readFull(conn, buf); err != nil || string(buf) != "secure" {
		t.Fatalf("got %q, err=%v", buf, err)
	}
}

// fakeSOCKS4 accepts one SOCKS4 CONNECT request and replies with the given
// status byte, then relays bytes to/from target.
func fakeSOCKS4(t *testing.T, ln net.Listener, status byte, target net.Listener) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	head := make([]byte, 8)
	if _, err := readFull(conn, head); err != nil {
		return
	}
	// drain the null-terminated userid field
	one := make([]byte, 1)
	for {
		if _, err := conn.Read(one); err != nil || one[0] == 0 {
			break
		}
	}
	conn.Write([]byte{0x00, status, 0x00, 0x00, 0, 0, 0, 0})
	if status != 0x5A {
		return
	}

	tconn, err := net.Dial("tcp", target.Addr().String())
	if err != nil {
		return
	}
	defer tconn.Close()
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				tconn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	buf := make([]byte, 4096)
	for {
		n, err := tconn.Read(buf)
		if n > 0 {
			conn.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func TestDialSOCKS4Success(t *testing.T) {
	target := listenTCP(t)
	defer target.Close()
	go func() {
		conn, err := target.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("via-socks4"))
	}()

	proxyLn := listenTCP(t)
	defer proxyLn.Close()
	go fakeSOCKS4(t, proxyLn, 0x5A, target)

	proxyAddr := proxyLn.Addr().(*net.TCPAddr)
	d := NewDialer()
	cfg := &ProxyConfig{Type: "socks4", Host: "127.0.0.1", Port: proxyAddr.Port}

	conn, err := d.DialSOCKS4(context.Background(), cfg, "127.0.0.1", target.Addr().(*net.TCPAddr).Port, 2*time.Second)
	if err != nil {
		t.Fatalf("dial socks4: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 10)
	if _, err := readFull(conn, buf); err != nil || string(buf) != "via-socks4" {
		t.Fatalf("got %q, err=%v", buf, err)
	}
}

func TestDialSOCKS4Rejected(t *testing.T) {
	target := listenTCP(t)
	defer target.Close()

	proxyLn := listenTCP(t)
	defer proxyLn.Close()
	go fakeSOCKS4(t, proxyLn, 0x5B, target)

	proxyAddr := proxyLn.Addr().(*net.TCPAddr)
	d := NewDialer()
	cfg := &ProxyConfig{Type: "socks4", Host: "127.0.0.1", Port: proxyAddr.Port}

	_, err := d.DialSOCKS4(context.Background(), cfg, "127.0.0.1", target.Addr().(*net.TCPAddr).Port, 2*time.Second)
	if err == nil {
		t.Fatal("expected error for rejected SOCKS4 request")
	}
}

func TestDefaultProxyPort(t *testing.T) {
	cases := map[string]int{"http": 8080, "https": 443, "socks4": 1080, "socks5": 1080, "bogus": 0}
	for proxyType, want := range cases {
		if got := DefaultProxyPort(proxyType); got != want {
			t.Errorf("DefaultProxyPort(%q) = %d, want %d", proxyType, got, want)
		}
	}
}

func TestProxyConfigAddr(t *testing.T) {
	p := &ProxyConfig{Host: "example.com", Port: 1080}
	if got, want := p.addr(), "example.com:1080"; got != want {
		t.Errorf("addr() = %q, want %q", got, want)
	}
}
