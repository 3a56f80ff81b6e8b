// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package packetid

import "testing"

func TestAllocatorStartsAtOne(t *testing.T) {
	a := New()
	if got := a.Next(); got != 1 {
		t.Fatalf("first Next() = %d, want 1", got)
	}
	if got := a.Next(); got != 2 {
		t.Fatalf("second Next() = %d, want 2", got)
	}
}

func TestAllocatorNeverIssuesZero(t *testing.T) {
	a := &Allocator{next: 0xFFFF}
	if got := a.Next(); got != 1 {
		t.Fatalf("Next() after wrap = %d, want 1 (0 must be skipped)", got)
	}
}

func TestAllocatorMonotonicUntilWrap(t *testing.T) {
	a := &Allocator{next: 0xFFFD}
	seq := []ID{a.Next(), a.Next(), a.Next()}
	want := []ID{0xFFFE, 0xFFFF, 1}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("seq[%d] = %d, want %d", i, seq[i], want[i])
		}
	}
}
