// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session implements the cooperative, nonblocking connection
// handshake and steady-state message pump for a single IoT Hub session.
//
// This is a direct restructuring of the teacher's own single-threaded,
// poll-driven I/O model (see internal.go's readStream/writeStream) applied
// to MqttConnector/MqttConnectionInProgress's connect handshake and
// IotClient's steady-state processing loop.
package session

import (
	"errors"
	"fmt"
	"io"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/raiot/framing"
	"code.hybscloud.com/raiot/iot"
	"code.hybscloud.com/raiot/iot/identity"
	"code.hybscloud.com/raiot/mqttwire"
)

// ConnectErrorKind classifies why a connect attempt failed permanently.
type ConnectErrorKind int

const (
	ConnectErrIO ConnectErrorKind = iota
	ConnectErrProtocolViolation
	ConnectErrRejected
	ConnectErrTimedOut
)

// ConnectError is returned when a connect attempt fails permanently; a
// transient WouldBlock is reported by returning the same
// *ConnectionInProgress with a nil error instead.
type ConnectError struct {
	Kind   ConnectErrorKind
	Result iot.ConnectRes // meaningful only when Kind == ConnectErrRejected
	Cause  error
}

func (e *ConnectError) Error() string {
	switch e.Kind {
	case ConnectErrIO:
		return fmt.Sprintf("session: connect: io error: %v", e.Cause)
	case ConnectErrProtocolViolation:
		return fmt.Sprintf("session: connect: protocol violation: %v", e.Cause)
	case ConnectErrRejected:
		return fmt.Sprintf("session: connect: rejected, kind=%d", e.Result.Kind)
	case ConnectErrTimedOut:
		return "session: connect: timed out"
	default:
		return "session: connect: failed"
	}
}

func (e *ConnectError) Unwrap() error { return e.Cause }

// ErrConnectionAborted means the transport reported 0 bytes read, which per
// §4.F/§7 means the connection has been closed by the peer.
var ErrConnectionAborted = errors.New("session: connection aborted")

type connectState int

const (
	sendingConnect connectState = iota
	awaitingConnack
)

// ConnectionInProgress drives the CONNECT/CONNACK handshake. Call Poll
// repeatedly (e.g. from a cooperative scheduler tick) until it returns a
// *Session or a permanent error; while the handshake is still in progress
// it returns the *ConnectionInProgress to poll again later.
type ConnectionInProgress struct {
	stream   io.ReadWriter
	rx       *framing.Deframer
	tx       *framing.Framer
	deadline time.Time
	id       identity.ClientIdentity
	state    connectState
}

// BeginConnect encodes the CONNECT packet and preloads it into a TX ring of
// txSize bytes. It fails immediately (never touching the transport) if the
// encoded CONNECT cannot fit -- this is S4's "oversized CONNECT" case.
func BeginConnect(stream io.ReadWriter, msg iot.ConnectMsg, rxSize, txSize int, timeout time.Duration, now time.Time) (*ConnectionInProgress, error) {
	tx := framing.NewFramer(txSize)
	encoded := iot.EncodeConnect(msg).Encode()
	if err := tx.WritePacket(encoded); err != nil {
		return nil, fmt.Errorf("session: encode connect: %w", err)
	}
	return &ConnectionInProgress{
		stream:   stream,
		rx:       framing.NewDeframer(rxSize),
		tx:       tx,
		deadline: now.Add(timeout),
		id:       msg.ClientID,
		state:    sendingConnect,
	}, nil
}

// Poll advances the handshake by one step. Exactly one of the three return
// values is meaningful:
//   - (session, nil, nil): handshake complete, Connected.
//   - (nil, self, nil): still in progress; call Poll again.
//   - (nil, nil, err): permanent failure.
func (c *ConnectionInProgress) Poll(now time.Time) (*Session, *ConnectionInProgress, error) {
	if now.After(c.deadline) {
		return nil, nil, &ConnectError{Kind: ConnectErrTimedOut}
	}

	if c.state == sendingConnect {
		if _, err := c.tx.Drain(c.stream); err != nil && !isTransientIO(err) {
			return nil, nil, &ConnectError{Kind: ConnectErrIO, Cause: err}
		}
		if !c.tx.IsEmpty() {
			return nil, c, nil
		}
		c.state = awaitingConnack
	}

	n, err := c.rx.Fill(c.stream)
	if err != nil && !isTransientIO(err) {
		return nil, nil, &ConnectError{Kind: ConnectErrIO, Cause: err}
	}
	if err == nil && n == 0 {
		return nil, nil, &ConnectError{Kind: ConnectErrIO, Cause: ErrConnectionAborted}
	}

	typ, flags, body, ok, perr := c.rx.Packet()
	if perr != nil {
		return nil, nil, &ConnectError{Kind: ConnectErrProtocolViolation, Cause: perr}
	}
	if !ok {
		return nil, c, nil
	}
	if typ != mqttwire.TypeConnAck {
		return nil, nil, &ConnectError{Kind: ConnectErrProtocolViolation, Cause: fmt.Errorf("unexpected packet type %d", typ)}
	}

	fh, derr := iot.DecodePacket(typ, flags, body)
	if derr != nil {
		return nil, nil, &ConnectError{Kind: ConnectErrProtocolViolation, Cause: derr}
	}
	cr := fh.(iot.ConnectResponse)
	if cr.Res.Kind != iot.ConnectAccepted {
		return nil, nil, &ConnectError{Kind: ConnectErrRejected, Result: cr.Res}
	}

	return newSession(c.stream, c.id, c.rx, c.tx), nil, nil
}

func isTransientIO(err error) bool {
	return errors.Is(err, iox.ErrWouldBlock) || errors.Is(err, iox.ErrMore)
}
