// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"sync"

	"code.hybscloud.com/raiot/iot"
)

// SendStatus is the lifecycle of an outbound publish or subscribe-response
// completion. It only ever moves forward; once terminal it never changes.
type SendStatus int

const (
	StatusPending SendStatus = iota
	StatusSent
	StatusAcknowledged
	StatusSendFailed
	StatusRejected
	StatusTimedOut
)

func (s SendStatus) terminal() bool {
	switch s {
	case StatusAcknowledged, StatusSendFailed, StatusRejected, StatusTimedOut:
		return true
	default:
		return false
	}
}

// SendHandle reports the delivery progress of one outbound publish. For
// AtMostOnce sends it jumps straight to Acknowledged once the bytes are
// committed to the transport; for AtLeastOnce sends it stops at Sent until
// the matching PUBACK arrives.
type SendHandle struct {
	mu          sync.Mutex
	status      SendStatus
	ackRequired bool
	waker       func()
}

func newSendHandle(ackRequired bool) *SendHandle {
	return &SendHandle{ackRequired: ackRequired}
}

// Status returns the current status without registering a waker.
func (h *SendHandle) Status() SendStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Poll returns the current status. If not yet terminal, waker replaces any
// previously registered waker and is invoked the next time the status
// changes.
func (h *SendHandle) Poll(waker func()) (SendStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.terminal() {
		return h.status, true
	}
	h.waker = waker
	return h.status, false
}

func (h *SendHandle) transition(next SendStatus) {
	h.mu.Lock()
	if h.status == next || h.status.terminal() {
		h.mu.Unlock()
		return
	}
	h.status = next
	w := h.waker
	h.waker = nil
	h.mu.Unlock()
	if w != nil {
		w()
	}
}

func (h *SendHandle) markSent() {
	if h.ackRequired {
		h.transition(StatusSent)
	} else {
		h.transition(StatusAcknowledged)
	}
}

func (h *SendHandle) markAcknowledged() { h.transition(StatusAcknowledged) }
func (h *SendHandle) markSendFailed()   { h.transition(StatusSendFailed) }
func (h *SendHandle) markRejected()     { h.transition(StatusRejected) }
func (h *SendHandle) markTimedOut()     { h.transition(StatusTimedOut) }

// TwinHandle resolves exactly once, either with a twin read response or with
// an error (subscribe-first failure, session closed mid-flight, ...).
type TwinHandle struct {
	mu    sync.Mutex
	done  bool
	res   iot.ReadTwinRes
	err   error
	waker func()
}

func newTwinHandle() *TwinHandle { return &TwinHandle{} }

// Poll returns (response, error, ready). Until ready, waker replaces any
// previously registered waker.
func (h *TwinHandle) Poll(waker func()) (iot.ReadTwinRes, error, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return h.res, h.err, true
	}
	h.waker = waker
	return iot.ReadTwinRes{}, nil, false
}

func (h *TwinHandle) resolve(res iot.ReadTwinRes) { h.complete(res, nil) }
func (h *TwinHandle) fail(err error)              { h.complete(iot.ReadTwinRes{}, err) }

func (h *TwinHandle) complete(res iot.ReadTwinRes, err error) {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	h.res = res
	h.err = err
	w := h.waker
	h.waker = nil
	h.mu.Unlock()
	if w != nil {
		w()
	}
}
