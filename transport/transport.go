// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport opens a nonblocking TLS-over-TCP stream to an IoT Hub
// endpoint. Go has no raw nonblocking socket mode comparable to Rust's
// set_nonblocking(true), so each Read/Write arms a short deadline and
// translates the resulting timeout into iox.ErrWouldBlock -- the same
// control-flow sentinel framing and session already speak.
package transport

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"code.hybscloud.com/iox"
)

// pollInterval bounds how long a single Read/Write call may block before
// reporting iox.ErrWouldBlock to the caller's cooperative scheduler.
const pollInterval = 5 * time.Millisecond

// ClientCertificate carries client certificate material for
// certificate-based authentication, as an alternative to a SAS token. Dial
// hands Bytes and Password to tls.X509KeyPair, so Bytes is the PEM-encoded
// certificate and Password the PEM-encoded private key; PKCS#12 bundles are
// not decoded.
type ClientCertificate struct {
	Bytes    []byte
	Password string
}

// Stream is a nonblocking io.ReadWriter over a TLS connection to an IoT Hub
// endpoint.
type Stream struct {
	conn net.Conn
}

// Dial opens a TCP connection to host:port, completes a TLS handshake, and
// returns a Stream whose Read/Write never block longer than pollInterval.
// If cert is non-nil it is presented for client-certificate authentication
// in place of a password/SAS token.
func Dial(host string, port int, timeout time.Duration, cert *ClientCertificate) (*Stream, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	rawConn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	if cert != nil {
		tlsCert, cerr := tls.X509KeyPair(cert.Bytes, []byte(cert.Password))
		if cerr != nil {
			rawConn.Close()
			return nil, cerr
		}
		cfg.Certificates = []tls.Certificate{tlsCert}
	}

	tlsConn := tls.Client(rawConn, cfg)
	if err := tlsConn.SetDeadline(time.Now().Add(timeout)); err != nil {
		tlsConn.Close()
		return nil, err
	}
	if err := tlsConn.Handshake(); err != nil {
		tlsConn.Close()
		return nil, err
	}
	if err := tlsConn.SetDeadline(time.Time{}); err != nil {
		tlsConn.Close()
		return nil, err
	}

	return &Stream{conn: tlsConn}, nil
}

// Read implements io.Reader. A read that would block returns
// (0, iox.ErrWouldBlock). A read that observes the peer closing the
// connection returns (0, nil) -- the same "zero bytes, no error" shape
// ringbuf.AppendFrom produces for a plain io.EOF, so callers one layer up
// (framing, session) apply a single ConnectionAborted rule regardless of
// which reader they're driving.
func (s *Stream) Read(p []byte) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(p)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, iox.ErrWouldBlock
	}
	return n, err
}

// Write implements io.Writer. A write that would block (or that partially
// completes before blocking) returns the bytes actually written alongside
// iox.ErrWouldBlock, matching ringbuf.DrainInto's partial-success contract.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.conn.SetWriteDeadline(time.Now().Add(pollInterval)); err != nil {
		return 0, err
	}
	n, err := s.conn.Write(p)
	if err == nil {
		return n, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, iox.ErrWouldBlock
	}
	return n, err
}

// Close closes the underlying connection.
func (s *Stream) Close() error { return s.conn.Close() }
