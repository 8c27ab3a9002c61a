// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"strconv"

	"github.com/eclipse/paho.golang/packets"
)

type (
	// ConnectionProvider opens a network connection to the broker. The
	// returned net.Conn must be safe for concurrent writes.
	ConnectionProvider func(context.Context) (net.Conn, error)

	// TLSOption adjusts the TLS configuration before each dial.
	TLSOption func(context.Context, *tls.Config) error
)

// TCPConnection connects to the broker over plain TCP.
func TCPConnection(hostname string, port uint16) ConnectionProvider {
	addr := net.JoinHostPort(hostname, strconv.Itoa(int(port)))
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &ConnectionError{
				message: "error opening TCP connection",
				wrapped: err,
			}
		}
		return packets.NewThreadSafeConn(conn), nil
	}
}

// TLSConnection connects to the broker over TLS. The options are applied to a
// fresh configuration on every dial, so rotated files are picked up on
// reconnect.
func TLSConnection(
	hostname string,
	port uint16,
	opts ...TLSOption,
) ConnectionProvider {
	addr := net.JoinHostPort(hostname, strconv.Itoa(int(port)))
	return func(ctx context.Context) (net.Conn, error) {
		cfg := &tls.Config{
			ServerName: hostname,
			MinVersion: tls.VersionTLS12,
		}
		for _, opt := range opts {
			if err := opt(ctx, cfg); err != nil {
				return nil, &ConnectionError{
					message: "error building TLS configuration",
					wrapped: err,
				}
			}
		}

		d := tls.Dialer{Config: cfg}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &ConnectionError{
				message: "error opening TLS connection",
				wrapped: err,
			}
		}
		return packets.NewThreadSafeConn(conn), nil
	}
}

// WithCA trusts the PEM certificates in the given file.
func WithCA(file string) TLSOption {
	return func(_ context.Context, cfg *tls.Config) error {
		pem, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return &InvalidArgumentError{message: "no certificates in CA file"}
		}
		cfg.RootCAs = pool
		return nil
	}
}

// WithX509 presents a client certificate.
func WithX509(certFile, keyFile string) TLSOption {
	return func(_ context.Context, cfg *tls.Config) error {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return err
		}
		cfg.Certificates = []tls.Certificate{cert}
		return nil
	}
}

// WithInsecureSkipVerify disables server certificate checks. Only meant for
// local development brokers.
func WithInsecureSkipVerify() TLSOption {
	return func(_ context.Context, cfg *tls.Config) error {
		cfg.InsecureSkipVerify = true // #nosec G402
		return nil
	}
}
