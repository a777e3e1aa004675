package shardclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tarantool/go-openssl"
)

// SslOpts configures the encrypted transport of OpenSSLDialer.
type SslOpts struct {
	// KeyFile is a path to a private SSL key file.
	KeyFile string
	// CertFile is a path to an SSL certificate file.
	CertFile string
	// CaFile is a path to a trusted certificate authorities (CA) file.
	// When set, peer certificates are verified.
	CaFile string
	// Ciphers is a colon-separated (:) list of SSL cipher suites the
	// connection can use.
	Ciphers string
}

// OpenSSLDialer connects to backend nodes over TLS. Cluster deployments that
// require encrypted internal traffic use it in place of NetDialer.
type OpenSSLDialer struct {
	Ssl SslOpts
}

// Dial connects to a backend node at the address with the specified options.
func (d OpenSSLDialer) Dial(ctx context.Context, address string,
	opts DialOpts) (Conn, error) {
	sslCtx, err := sslCreateContext(d.Ssl)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSL context: %w", err)
	}

	network, address := parseAddress(address)
	raw, err := openssl.DialTimeout(network, address, opts.DialTimeout, sslCtx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	conn := new(netConn)
	conn.net = raw

	dc := &deadlineIO{to: opts.IoTimeout, c: conn.net}
	conn.reader = bufio.NewReaderSize(dc, 16*1024)
	conn.writer = bufio.NewWriterSize(dc, 16*1024)

	if conn.greeting, err = readGreeting(conn.reader); err != nil {
		conn.net.Close()
		return nil, fmt.Errorf("failed to read greeting: %w", err)
	}

	return conn, nil
}

// Require TLSv1.2: internal cluster deployments standardize on it.
func sslCreateContext(opts SslOpts) (*openssl.Ctx, error) {
	sslCtx, err := openssl.NewCtxWithVersion(openssl.TLSv1_2)
	if err != nil {
		return nil, err
	}
	sslCtx.SetMaxProtoVersion(openssl.TLS1_2_VERSION)
	sslCtx.SetMinProtoVersion(openssl.TLS1_2_VERSION)

	if opts.CertFile != "" {
		if err = sslLoadCert(sslCtx, opts.CertFile); err != nil {
			return nil, err
		}
	}
	if opts.KeyFile != "" {
		if err = sslLoadKey(sslCtx, opts.KeyFile); err != nil {
			return nil, err
		}
	}
	if opts.CaFile != "" {
		if err = sslCtx.LoadVerifyLocations(opts.CaFile, ""); err != nil {
			return nil, err
		}
		sslCtx.SetVerify(openssl.VerifyPeer|openssl.VerifyFailIfNoPeerCert, nil)
	}
	if opts.Ciphers != "" {
		if err = sslCtx.SetCipherList(opts.Ciphers); err != nil {
			return nil, err
		}
	}

	return sslCtx, nil
}

func sslLoadCert(ctx *openssl.Ctx, certFile string) error {
	certBytes, err := os.ReadFile(certFile)
	if err != nil {
		return err
	}

	certs := openssl.SplitPEM(certBytes)
	if len(certs) == 0 {
		return errors.New("no PEM certificate found in " + certFile)
	}

	for i, pem := range certs {
		cert, err := openssl.LoadCertificateFromPEM(pem)
		if err != nil {
			return err
		}
		if i == 0 {
			err = ctx.UseCertificate(cert)
		} else {
			err = ctx.AddChainCertificate(cert)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func sslLoadKey(ctx *openssl.Ctx, keyFile string) error {
	keyBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return err
	}

	key, err := openssl.LoadPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return err
	}
	return ctx.UsePrivateKey(key)
}
