package record

import (
	"bytes"
	"testing"
)

// appendMerge is the canonical test merger: new payload = old + delta.
// Writing old first keeps it safe when dst aliases old.
func appendMerge(old, delta, dst []byte) int {
	n := len(old) + len(delta)
	if dst == nil {
		return n
	}
	copy(dst, old)
	copy(dst[len(old):], delta)
	return n
}

func newTestSlot(capacity int) *Slot {
	return NewSlot(make([]byte, capacity))
}

func TestSlot_Put(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		s := newTestSlot(16)
		s.Put([]byte("hello"))

		if got := s.Get(nil); !bytes.Equal(got, []byte("hello")) {
			t.Errorf("expected %q, got %q", "hello", got)
		}
		if s.Length() != 5 {
			t.Errorf("expected length=5, got %d", s.Length())
		}
		if s.Capacity() != 16 {
			t.Errorf("capacity changed: %d", s.Capacity())
		}
	})

	t.Run("empty payload", func(t *testing.T) {
		s := newTestSlot(8)
		s.Put(nil)
		if got := s.Get(nil); len(got) != 0 {
			t.Errorf("expected empty payload, got %q", got)
		}
	})

	t.Run("resets lock state", func(t *testing.T) {
		s := newTestSlot(8)
		s.Put([]byte("a"))
		if s.Generation() != 0 || s.Replaced() {
			t.Errorf("initial write must reset lock state: gen=%d replaced=%v",
				s.Generation(), s.Replaced())
		}
	})

	t.Run("oversize panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic on oversized initial write")
			}
		}()
		newTestSlot(2).Put([]byte("abc"))
	})
}

func TestSlot_PutAtomic(t *testing.T) {
	t.Run("in place update round trip", func(t *testing.T) {
		s := newTestSlot(16)
		s.Put([]byte("first"))

		if out := s.PutAtomic([]byte("second value?")); out != Ok {
			t.Fatalf("expected Ok, got %v", out)
		}
		if got := s.GetAtomic(nil); !bytes.Equal(got, []byte("second value?")) {
			t.Errorf("expected %q, got %q", "second value?", got)
		}
		if s.Capacity() != 16 {
			t.Errorf("capacity must never change, got %d", s.Capacity())
		}
	})

	t.Run("every size up to capacity", func(t *testing.T) {
		const capacity = 64
		s := newTestSlot(capacity)
		s.Put(nil)

		for n := 0; n <= capacity; n++ {
			payload := bytes.Repeat([]byte{byte(n)}, n)
			if out := s.PutAtomic(payload); out != Ok {
				t.Fatalf("size %d: expected Ok, got %v", n, out)
			}
			if got := s.GetAtomic(nil); !bytes.Equal(got, payload) {
				t.Fatalf("size %d: read back %d bytes", n, len(got))
			}
		}
	})

	t.Run("oversize retires the slot", func(t *testing.T) {
		s := newTestSlot(16)
		s.Put([]byte("hello"))

		big := bytes.Repeat([]byte("x"), 17)
		if out := s.PutAtomic(big); out != Superseded {
			t.Fatalf("expected Superseded, got %v", out)
		}
		if !s.Replaced() {
			t.Error("slot must be retired after capacity failure")
		}
		// Prior payload stays intact and readable, never the rejected one.
		if got := s.GetAtomic(nil); !bytes.Equal(got, []byte("hello")) {
			t.Errorf("expected pre-update payload %q, got %q", "hello", got)
		}
	})

	t.Run("retired slot rejects all further writers", func(t *testing.T) {
		s := newTestSlot(4)
		s.Put([]byte("abcd"))
		if out := s.PutAtomic([]byte("abcde")); out != Superseded {
			t.Fatalf("expected Superseded, got %v", out)
		}
		for i := 0; i < 50; i++ {
			if out := s.PutAtomic([]byte("x")); out != Superseded {
				t.Fatalf("retirement must be terminal, got %v", out)
			}
		}
		if got := s.GetAtomic(nil); !bytes.Equal(got, []byte("abcd")) {
			t.Errorf("payload changed after retirement: %q", got)
		}
	})
}

func TestSlot_GenerationMonotonic(t *testing.T) {
	s := newTestSlot(8)
	s.Put([]byte("a"))

	prev := s.Generation()
	if prev != 0 {
		t.Fatalf("fresh slot at generation %d", prev)
	}

	// One bump per successful unlock.
	for i := 1; i <= 10; i++ {
		if out := s.PutAtomic([]byte("b")); out != Ok {
			t.Fatalf("PutAtomic failed: %v", out)
		}
		g := s.Generation()
		if g != prev+1 {
			t.Fatalf("generation jumped from %d to %d", prev, g)
		}
		prev = g
	}

	// The replaced release path bumps too.
	if out := s.PutAtomic(bytes.Repeat([]byte("x"), 9)); out != Superseded {
		t.Fatal("expected Superseded")
	}
	if g := s.Generation(); g != prev+1 {
		t.Errorf("retirement must bump generation by 1: %d -> %d", prev, g)
	}
}

func TestSlot_RmwInitial(t *testing.T) {
	s := newTestSlot(16)

	// Merge against the implicit empty base.
	s.RmwInitial([]byte("hello"), appendMerge)

	if got := s.Get(nil); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("expected %q, got %q", "hello", got)
	}
	if s.Generation() != 0 {
		t.Errorf("initial RMW must reset the lock, generation=%d", s.Generation())
	}
}

func TestSlot_RmwAtomic(t *testing.T) {
	t.Run("in place merge", func(t *testing.T) {
		s := newTestSlot(16)
		s.Put([]byte("hello"))

		if out := s.RmwAtomic([]byte("!"), appendMerge); out != Ok {
			t.Fatalf("expected Ok, got %v", out)
		}
		if got := s.GetAtomic(nil); !bytes.Equal(got, []byte("hello!")) {
			t.Errorf("expected %q, got %q", "hello!", got)
		}
		if s.Length() != 6 {
			t.Errorf("expected length=6, got %d", s.Length())
		}
	})

	t.Run("dry run failure retires without mutating", func(t *testing.T) {
		s := newTestSlot(8)
		s.Put([]byte("12345678"))

		if out := s.RmwAtomic([]byte("9"), appendMerge); out != Superseded {
			t.Fatalf("expected Superseded, got %v", out)
		}
		if !s.Replaced() {
			t.Error("slot must be retired when the merge result cannot fit")
		}
		if got := s.GetAtomic(nil); !bytes.Equal(got, []byte("12345678")) {
			t.Errorf("payload mutated on failed RMW: %q", got)
		}
	})

	t.Run("retired slot", func(t *testing.T) {
		s := newTestSlot(4)
		s.Put([]byte("abcd"))
		if out := s.PutAtomic([]byte("toolg")); out != Superseded {
			t.Fatal("setup: expected Superseded")
		}
		if out := s.RmwAtomic([]byte("x"), appendMerge); out != Superseded {
			t.Errorf("RMW on retired slot must report Superseded, got %v", out)
		}
	})
}

func TestSlot_RmwCopy(t *testing.T) {
	old := newTestSlot(8)
	old.Put([]byte("hello"))

	// Size the new slot with a dry run, exactly as the engine would.
	need := appendMerge(old.Get(nil), []byte(" world"), nil)
	fresh := newTestSlot(need)
	beforeGen := old.Generation()

	fresh.RmwCopy(old, []byte(" world"), appendMerge)

	if got := fresh.Get(nil); !bytes.Equal(got, []byte("hello world")) {
		t.Errorf("expected %q, got %q", "hello world", got)
	}
	if fresh.Generation() != 0 {
		t.Errorf("copy target must start at generation 0, got %d", fresh.Generation())
	}
	// The old slot's lock state is not RmwCopy's business.
	if old.Generation() != beforeGen || old.Replaced() {
		t.Error("RmwCopy must not touch the old slot's lock state")
	}
	if got := old.Get(nil); !bytes.Equal(got, []byte("hello")) {
		t.Errorf("old payload mutated: %q", got)
	}
}

// The concrete capacity-16 scenario from the protocol walkthrough:
// upsert "hello", reject a 34-byte upsert, then append "!" via RMW.
func TestSlot_Scenario(t *testing.T) {
	s := newTestSlot(16)

	s.Put([]byte("hello"))
	if got := s.GetAtomic(nil); !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("read after insert: %q", got)
	}

	if out := s.PutAtomic([]byte("this is too long for sixteen bytes")); out != Superseded {
		t.Fatalf("oversize upsert: expected Superseded, got %v", out)
	}
	if got := s.GetAtomic(nil); !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("read after rejected upsert: %q", got)
	}

	// The slot was retired by the failed upsert; the engine would allocate
	// a fresh one. On a still-live slot the in-place RMW succeeds:
	live := newTestSlot(16)
	live.Put([]byte("hello"))
	if out := live.RmwAtomic([]byte("!"), appendMerge); out != Ok {
		t.Fatalf("append RMW: expected Ok, got %v", out)
	}
	if got := live.GetAtomic(nil); !bytes.Equal(got, []byte("hello!")) {
		t.Fatalf("read after RMW: %q (len %d)", got, len(got))
	}
}

func TestOutcome_String(t *testing.T) {
	if Ok.String() != "ok" || Superseded.String() != "superseded" {
		t.Errorf("unexpected outcome strings: %v %v", Ok, Superseded)
	}
}
