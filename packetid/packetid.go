// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package packetid supplies monotonically increasing MQTT packet
// identifiers for a single session.
package packetid

// ID is an MQTT packet identifier. Uniqueness is only required across
// currently in-flight (not yet acknowledged) packets.
type ID uint16

// Allocator hands out packet identifiers in strictly increasing order,
// wrapping from 0xFFFF back to 1. Unlike a bare incrementing uint16 (which
// would wrap through 0), Allocator deliberately never issues 0 -- see
// DESIGN.md's Open Question resolution on this point.
type Allocator struct {
	next uint16
}

// New returns an Allocator whose first Next() call returns 1.
func New() *Allocator {
	return &Allocator{}
}

// Next returns the next packet identifier, never 0.
func (a *Allocator) Next() ID {
	a.next++
	if a.next == 0 {
		a.next = 1
	}
	return ID(a.next)
}
