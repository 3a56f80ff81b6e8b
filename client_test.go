// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package raiot

import (
	"bytes"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/raiot/iot"
	"code.hybscloud.com/raiot/iot/identity"
	"code.hybscloud.com/raiot/mqttwire"
	"code.hybscloud.com/raiot/session"
)

// loopbackStream is a minimal scripted io.ReadWriter: reads come from a
// preloaded buffer and return iox.ErrWouldBlock once drained, writes sink
// into a discard buffer.
type loopbackStream struct {
	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
}

func (s *loopbackStream) Read(p []byte) (int, error) {
	if s.readBuf.Len() == 0 {
		return 0, iox.ErrWouldBlock
	}
	return s.readBuf.Read(p)
}

func (s *loopbackStream) Write(p []byte) (int, error) { return s.writeBuf.Write(p) }

func connectedTestSession(t *testing.T) *session.Session {
	t.Helper()
	stream := &loopbackStream{}
	stream.readBuf.Write(mqttwire.ConnAckPacket{ReturnCode: mqttwire.ConnectAccepted}.Encode())

	now := time.Now()
	msg := iot.ConnectMsg{ClientID: identity.ClientIdentity{DeviceID: "dev1"}, Hostname: "hub.example.com"}
	c, err := session.BeginConnect(stream, msg, 1024, 1024, 5*time.Second, now)
	if err != nil {
		t.Fatalf("BeginConnect: %v", err)
	}
	for i := 0; i < 10; i++ {
		sess, cont, err := c.Poll(now)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if sess != nil {
			return sess
		}
		c = cont
	}
	t.Fatal("handshake never completed")
	return nil
}

func TestDeviceClientSendTelemetry(t *testing.T) {
	sess := connectedTestSession(t)
	client := NewDeviceClient(sess)

	handle, err := client.SendTelemetry([]byte(`{"a":1}`), nil, iot.AtMostOnce)
	if err != nil {
		t.Fatalf("SendTelemetry: %v", err)
	}
	if err := client.Process(); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if handle.Status() != session.StatusAcknowledged {
		t.Fatalf("status = %v, want Acknowledged", handle.Status())
	}
}
