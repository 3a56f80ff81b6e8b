// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"code.hybscloud.com/raiot/iot"
	"code.hybscloud.com/raiot/packetid"
)

// SubPhase is the state of one subscription family (C2D, direct methods,
// twin reads, or desired-property updates).
type SubPhase int

const (
	Unsubscribed SubPhase = iota
	Subscribing
	Subscribed
)

type subState struct {
	phase   SubPhase
	pending packetid.ID
}

func (s *subState) beginSubscribing(pid packetid.ID) {
	s.phase = Subscribing
	s.pending = pid
}

// TryComplete resolves this subscription against a decoded SUBACK. It only
// acts when the state is Subscribing and the SUBACK's packet id matches the
// one recorded at subscribe time -- a non-matching packet id leaves the
// state untouched and returns false, so a SUBACK belonging to a different
// family never disturbs this one.
func (s *subState) TryComplete(res iot.SubRes) bool {
	if s.phase != Subscribing || s.pending != res.PacketID {
		return false
	}
	if res.Accepted {
		s.phase = Subscribed
	} else {
		s.phase = Unsubscribed
	}
	return true
}

// SubErrorHandler is invoked when a SUBACK rejects a subscription.
type SubErrorHandler func(error)

type subFamily struct {
	state        subState
	errorHandler SubErrorHandler
}
