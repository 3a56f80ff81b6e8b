// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"code.hybscloud.com/raiot/framing"
	"code.hybscloud.com/raiot/iot"
	"code.hybscloud.com/raiot/iot/identity"
	"code.hybscloud.com/raiot/mqttwire"
	"code.hybscloud.com/raiot/packetid"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned by any operation attempted after the session
// has observed a fatal transport or protocol error.
var ErrSessionClosed = errors.New("session: closed")

// ErrSubscribeFailure is used to fail twin-read handles that were queued
// behind a twin-read subscription which was itself rejected.
var ErrSubscribeFailure = errors.New("session: subscription failed")

// C2DHandler receives an inbound cloud-to-device message.
type C2DHandler func(iot.C2DMsg)

// DirectMethodHandler receives an inbound direct method invocation and
// produces the response to send back. The RequestID field of the returned
// DirectMethodRes is overwritten with the request's own, so handlers need
// not set it.
type DirectMethodHandler func(iot.DirectMethodReq) iot.DirectMethodRes

// TwinUpdateHandler receives an inbound desired-properties update.
type TwinUpdateHandler func(iot.DesiredPropsUpdated)

type pendingSend struct {
	threshold int
	handle    *SendHandle
}

// Session is the post-CONNACK steady state of one IoT Hub connection. Both
// Process and the caller-facing Send*/Subscribe*/ReadTwin methods mutate
// its state; the mutex below guards the maps and queues below and is never
// held across an I/O call.
type Session struct {
	stream io.ReadWriter
	rx     *framing.Deframer
	tx     *framing.Framer
	id     identity.ClientIdentity
	ids    *packetid.Allocator

	mu sync.Mutex

	closed   bool
	closeErr error

	txWatermark int
	txDrained   int
	sendQueue   []pendingSend

	pendingAcks         map[packetid.ID]*SendHandle
	pendingTwinRequests map[string]*TwinHandle
	twinReadQueue       []string

	c2d         subFamily
	dmi         subFamily
	twinRead    subFamily
	twinUpdates subFamily

	c2dHandler        C2DHandler
	dmiHandler        DirectMethodHandler
	twinUpdateHandler TwinUpdateHandler
}

func newSession(stream io.ReadWriter, id identity.ClientIdentity, rx *framing.Deframer, tx *framing.Framer) *Session {
	return &Session{
		stream:              stream,
		rx:                  rx,
		tx:                  tx,
		id:                  id,
		ids:                 packetid.New(),
		pendingAcks:         make(map[packetid.ID]*SendHandle),
		pendingTwinRequests: make(map[string]*TwinHandle),
	}
}

// Process performs one unit of cooperative progress: it drains the TX ring
// to the transport, reads from the transport into the RX ring, and dispatches
// every fully-buffered packet. A transient WouldBlock/ErrMore on either side
// is absorbed; any other transport error, or a framing-level protocol
// violation, closes the session permanently.
func (s *Session) Process() error {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	n, werr := s.tx.Drain(s.stream)
	s.mu.Lock()
	s.txDrained += n
	var toWake []*SendHandle
	for len(s.sendQueue) > 0 && s.sendQueue[0].threshold <= s.txDrained {
		toWake = append(toWake, s.sendQueue[0].handle)
		s.sendQueue = s.sendQueue[1:]
	}
	s.mu.Unlock()
	for _, h := range toWake {
		h.markSent()
	}
	if werr != nil && !isTransientIO(werr) {
		s.fail(werr)
		return werr
	}

	rn, rerr := s.rx.Fill(s.stream)
	if rerr != nil && !isTransientIO(rerr) {
		s.fail(rerr)
		return rerr
	}
	if rerr == nil && rn == 0 {
		s.fail(ErrConnectionAborted)
		return ErrConnectionAborted
	}

	for {
		typ, flags, body, ok, perr := s.rx.Packet()
		if perr != nil {
			s.fail(perr)
			return perr
		}
		if !ok {
			break
		}
		fh, derr := iot.DecodePacket(typ, flags, body)
		if derr != nil {
			// Codec error: drop the offending message, session continues (§7).
			continue
		}
		s.dispatch(fh)
	}
	return nil
}

func (s *Session) dispatch(fh iot.FromHub) {
	switch m := fh.(type) {
	case iot.PublicationSucceeded:
		s.mu.Lock()
		h := s.pendingAcks[m.PacketID]
		delete(s.pendingAcks, m.PacketID)
		s.mu.Unlock()
		if h != nil {
			h.markAcknowledged()
		}

	case iot.SubscriptionResponse:
		s.handleSubAck(m.Res)

	case iot.TwinResponse:
		s.mu.Lock()
		h, ok := s.pendingTwinRequests[m.Res.RequestID]
		if ok {
			delete(s.pendingTwinRequests, m.Res.RequestID)
		}
		s.mu.Unlock()
		if ok {
			h.resolve(m.Res)
		}

	case iot.DirectMethodInvocation:
		s.mu.Lock()
		subscribed := s.dmi.state.phase == Subscribed
		handler := s.dmiHandler
		s.mu.Unlock()
		if !subscribed {
			return
		}
		var res iot.DirectMethodRes
		if handler != nil {
			res = handler(m.Req)
		} else {
			res = iot.DirectMethodRes{Status: 501}
		}
		res.RequestID = m.Req.RequestID
		s.enqueueAuto(iot.EncodeDirectMethodResponse(res).Encode())

	case iot.CloudToDevice:
		s.mu.Lock()
		subscribed := s.c2d.state.phase == Subscribed
		handler := s.c2dHandler
		s.mu.Unlock()
		if !subscribed {
			return
		}
		if handler != nil {
			handler(m.Msg)
		}
		if m.Msg.PacketID != nil {
			s.enqueueAuto(iot.EncodeAck(iot.AckMsg{PacketID: *m.Msg.PacketID}).Encode())
		}

	case iot.DesiredPropsUpdate:
		s.mu.Lock()
		subscribed := s.twinUpdates.state.phase == Subscribed
		handler := s.twinUpdateHandler
		s.mu.Unlock()
		if subscribed && handler != nil {
			handler(m.Update)
		}
	}
}

func (s *Session) handleSubAck(res iot.SubRes) {
	if matched, _ := s.tryCompleteFamily(&s.c2d, res); matched {
		return
	}
	if matched, _ := s.tryCompleteFamily(&s.dmi, res); matched {
		return
	}
	if matched, accepted := s.tryCompleteFamily(&s.twinRead, res); matched {
		if accepted {
			s.flushPendingTwinReads()
		} else {
			s.failPendingTwinReads()
		}
		return
	}
	s.tryCompleteFamily(&s.twinUpdates, res)
}

func (s *Session) tryCompleteFamily(f *subFamily, res iot.SubRes) (matched, accepted bool) {
	s.mu.Lock()
	matched = f.state.TryComplete(res)
	accepted = res.Accepted
	errHandler := f.errorHandler
	s.mu.Unlock()
	if matched && !accepted && errHandler != nil {
		errHandler(fmt.Errorf("session: subscription rejected (packet id %d)", res.PacketID))
	}
	return matched, accepted
}

func (s *Session) flushPendingTwinReads() {
	s.mu.Lock()
	ids := s.twinReadQueue
	s.twinReadQueue = nil
	s.mu.Unlock()

	for _, rid := range ids {
		if err := s.enqueueReadTwin(rid); err != nil {
			s.mu.Lock()
			h, ok := s.pendingTwinRequests[rid]
			if ok {
				delete(s.pendingTwinRequests, rid)
			}
			s.mu.Unlock()
			if ok {
				h.fail(err)
			}
		}
	}
}

func (s *Session) failPendingTwinReads() {
	s.mu.Lock()
	ids := s.twinReadQueue
	s.twinReadQueue = nil
	var handles []*TwinHandle
	for _, rid := range ids {
		if h, ok := s.pendingTwinRequests[rid]; ok {
			delete(s.pendingTwinRequests, rid)
			handles = append(handles, h)
		}
	}
	s.mu.Unlock()
	for _, h := range handles {
		h.fail(ErrSubscribeFailure)
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = err
	acks := s.pendingAcks
	s.pendingAcks = nil
	twins := s.pendingTwinRequests
	s.pendingTwinRequests = nil
	queue := s.sendQueue
	s.sendQueue = nil
	s.mu.Unlock()

	for _, h := range acks {
		h.markSendFailed()
	}
	for _, p := range queue {
		p.handle.markSendFailed()
	}
	for _, h := range twins {
		h.fail(err)
	}
}

// enqueueAuto writes a packet generated during dispatch (a PUBACK or a
// direct-method response) without creating a completion handle.
func (s *Session) enqueueAuto(encoded []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.tx.WritePacket(encoded); err != nil {
		return
	}
	s.txWatermark += len(encoded)
}

func (s *Session) enqueueReadTwin(requestID string) error {
	encoded := iot.EncodeReadTwin(iot.ReadTwinReq{RequestID: requestID}).Encode()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.closeErr
	}
	if err := s.tx.WritePacket(encoded); err != nil {
		return err
	}
	s.txWatermark += len(encoded)
	return nil
}

// sendPublish enqueues a caller-initiated PUBLISH and returns a handle
// tracking its delivery. If guarantees is AtLeastOnce, a packet id is
// allocated and build is called with it (non-nil); otherwise build is
// called with nil and the publish goes out at QoS 0.
func (s *Session) sendPublish(guarantees iot.DeliveryGuarantees, build func(*packetid.ID) mqttwire.PublishPacket) (*SendHandle, error) {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return nil, err
	}

	ackRequired := guarantees == iot.AtLeastOnce
	var pid *packetid.ID
	if ackRequired {
		v := s.ids.Next()
		pid = &v
	}
	encoded := build(pid).Encode()
	if err := s.tx.WritePacket(encoded); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.txWatermark += len(encoded)

	handle := newSendHandle(ackRequired)
	if ackRequired {
		s.pendingAcks[*pid] = handle
	}
	s.sendQueue = append(s.sendQueue, pendingSend{threshold: s.txWatermark, handle: handle})
	s.mu.Unlock()
	return handle, nil
}

// SendTelemetry encodes and enqueues a device-to-cloud message.
func (s *Session) SendTelemetry(body []byte, headers map[string]string, guarantees iot.DeliveryGuarantees) (*SendHandle, error) {
	return s.sendPublish(guarantees, func(pid *packetid.ID) mqttwire.PublishPacket {
		return iot.EncodeTelemetry(iot.TelemetryMsg{ClientID: s.id, Body: body, Headers: headers, PacketID: pid})
	})
}

// SendDirectMethodResponse encodes and enqueues a direct method response
// that the caller is producing out-of-band (as opposed to the session's own
// automatic 501 fallback in dispatch).
func (s *Session) SendDirectMethodResponse(requestID string, status int, payload []byte, guarantees iot.DeliveryGuarantees) (*SendHandle, error) {
	return s.sendPublish(guarantees, func(pid *packetid.ID) mqttwire.PublishPacket {
		return iot.EncodeDirectMethodResponse(iot.DirectMethodRes{PacketID: pid, RequestID: requestID, Status: status, Payload: payload})
	})
}

// UpdateReportedProperties encodes and enqueues a twin PATCH request.
func (s *Session) UpdateReportedProperties(reported []byte, guarantees iot.DeliveryGuarantees) (*SendHandle, error) {
	requestID := uuid.NewString()
	return s.sendPublish(guarantees, func(pid *packetid.ID) mqttwire.PublishPacket {
		return iot.EncodeUpdateReportedProps(iot.UpdateReportedPropsReq{PacketID: pid, RequestID: requestID, Reported: reported})
	})
}

func (s *Session) subscribe(f *subFamily, onError SubErrorHandler, buildPacket func(packetid.ID) mqttwire.SubscribePacket) error {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	if f.state.phase != Unsubscribed {
		s.mu.Unlock()
		return nil
	}
	pid := s.ids.Next()
	encoded := buildPacket(pid).Encode()
	if err := s.tx.WritePacket(encoded); err != nil {
		s.mu.Unlock()
		return err
	}
	s.txWatermark += len(encoded)
	f.state.beginSubscribing(pid)
	f.errorHandler = onError
	s.mu.Unlock()
	return nil
}

// SubscribeC2D subscribes to cloud-to-device messages for this session's
// device.
func (s *Session) SubscribeC2D(handler C2DHandler, onError SubErrorHandler, guarantees iot.DeliveryGuarantees) error {
	s.mu.Lock()
	s.c2dHandler = handler
	s.mu.Unlock()
	return s.subscribe(&s.c2d, onError, func(pid packetid.ID) mqttwire.SubscribePacket {
		return iot.EncodeC2DSubscription(iot.C2DSub{PacketID: pid, DeviceID: s.id.DeviceID, Mode: guarantees})
	})
}

// SubscribeDirectMethods subscribes to direct method invocations.
func (s *Session) SubscribeDirectMethods(handler DirectMethodHandler, onError SubErrorHandler, guarantees iot.DeliveryGuarantees) error {
	s.mu.Lock()
	s.dmiHandler = handler
	s.mu.Unlock()
	return s.subscribe(&s.dmi, onError, func(pid packetid.ID) mqttwire.SubscribePacket {
		return iot.EncodeDirectMethodsSubscription(iot.DirectMethodsSub{PacketID: pid, Mode: guarantees})
	})
}

// SubscribeTwinUpdates subscribes to desired-property update notifications.
func (s *Session) SubscribeTwinUpdates(handler TwinUpdateHandler, onError SubErrorHandler, guarantees iot.DeliveryGuarantees) error {
	s.mu.Lock()
	s.twinUpdateHandler = handler
	s.mu.Unlock()
	return s.subscribe(&s.twinUpdates, onError, func(pid packetid.ID) mqttwire.SubscribePacket {
		return iot.EncodeTwinUpdatesSubscription(iot.TwinUpdatesSub{PacketID: pid, Mode: guarantees})
	})
}

// ReadTwin requests the device twin. If this session has never subscribed
// to twin-read responses, it enqueues that subscription first and defers
// the GET until the SUBACK arrives; if the subscription is rejected, the
// returned handle fails with ErrSubscribeFailure.
func (s *Session) ReadTwin() (*TwinHandle, error) {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return nil, err
	}

	handle := newTwinHandle()
	requestID := uuid.NewString()
	s.pendingTwinRequests[requestID] = handle
	phase := s.twinRead.state.phase

	switch phase {
	case Subscribed:
		s.mu.Unlock()
		if err := s.enqueueReadTwin(requestID); err != nil {
			s.mu.Lock()
			delete(s.pendingTwinRequests, requestID)
			s.mu.Unlock()
			return nil, err
		}
		return handle, nil

	case Subscribing:
		s.twinReadQueue = append(s.twinReadQueue, requestID)
		s.mu.Unlock()
		return handle, nil

	default: // Unsubscribed
		pid := s.ids.Next()
		encoded := iot.EncodeTwinReadSubscription(iot.TwinReadSub{PacketID: pid, Mode: iot.AtLeastOnce}).Encode()
		if err := s.tx.WritePacket(encoded); err != nil {
			delete(s.pendingTwinRequests, requestID)
			s.mu.Unlock()
			return nil, err
		}
		s.txWatermark += len(encoded)
		s.twinRead.state.beginSubscribing(pid)
		s.twinReadQueue = append(s.twinReadQueue, requestID)
		s.mu.Unlock()
		return handle, nil
	}
}

// Closed reports whether the session has observed a fatal error.
func (s *Session) Closed() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.closeErr
}
