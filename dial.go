package chat

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

// Dial connects to host:port and returns the transport for a new session.
// When a trust anchor is configured the stream is wrapped in TLS and the
// server certificate is verified against it.
func Dial(ctx context.Context, host string, port int, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	if err := checkOptions(&opts); err != nil {
		return nil, err
	}
	return dial(ctx, host, port, opts)
}

func dial(ctx context.Context, host string, port int, opts options) (*Conn, error) {
	if port < 0 || port > 65535 {
		return nil, errors.Wrapf(ErrInvalidPort, "%d", port)
	}

	var roots *x509.CertPool
	if opts.trustAnchor != "" {
		var err error
		if roots, err = loadTrustAnchor(opts.trustAnchor); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.dialTimeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		opts.logger.Debug("dial failed", "addr", addr, "error", err)
		return nil, classifyDialError(err)
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	if roots != nil {
		tlsConn := tls.Client(raw, &tls.Config{
			RootCAs:    roots,
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			opts.logger.Debug("tls handshake failed", "addr", addr, "error", err)
			return nil, classifyTLSError(err)
		}
		raw = tlsConn
	}

	opts.logger.Debug("socket established", "addr", addr, "tls", roots != nil)
	return newConnWithOptions(raw, opts), nil
}

func loadTrustAnchor(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, withCause(ErrCertificateMissing, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errors.Wrapf(ErrCertificateInvalid, "%s: no PEM certificates", path)
	}
	return pool, nil
}

func classifyDialError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return withCause(ErrUnknownHost, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return withCause(ErrRefused, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return withCause(ErrConnectTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return withCause(ErrConnectTimeout, err)
	}
	return withCause(ErrNoConnection, err)
}

func classifyTLSError(err error) error {
	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr):
		return withCause(ErrCertificateInvalid, err)
	}
	return classifyDialError(err)
}
