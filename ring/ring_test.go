package ring

import "testing"

func TestFIFOOrder(t *testing.T) {
	tests := []struct {
		name string
		seq  []byte
	}{
		{"empty", nil},
		{"single", []byte{0x42}},
		{"full capacity", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}},
		{"ascending", []byte{0, 1, 2, 3, 4, 5, 6, 7}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := New(16)
			for _, v := range tc.seq {
				if !b.TryPush(v) {
					t.Fatalf("TryPush(%d) failed unexpectedly", v)
				}
			}
			for i, want := range tc.seq {
				got, ok := b.TryPop()
				if !ok {
					t.Fatalf("TryPop() #%d: empty unexpectedly", i)
				}
				if got != want {
					t.Errorf("TryPop() #%d = %d, want %d", i, got, want)
				}
			}
			if !b.Empty() {
				t.Errorf("buffer not empty after draining all pushed bytes")
			}
		})
	}
}

func TestMaskCorrectnessAfterWrap(t *testing.T) {
	b := New(8)
	for k := 0; k < 40; k++ {
		if !b.TryPush(byte(k)) {
			t.Fatalf("push %d failed", k)
		}
		got, ok := b.TryPop()
		if !ok || got != byte(k) {
			t.Fatalf("pop after push %d = (%d, %v), want (%d, true)", k, got, ok, k)
		}
		if b.Len() != 0 {
			t.Fatalf("after %d push/pop pairs, Len() = %d, want 0", k+1, b.Len())
		}
	}
}

func TestFullAndEmptyPredicates(t *testing.T) {
	b := New(4)
	if !b.Empty() || b.Full() {
		t.Fatalf("new buffer should be empty, not full")
	}
	for i := 0; i < 4; i++ {
		if !b.TryPush(byte(i)) {
			t.Fatalf("push %d should succeed", i)
		}
	}
	if !b.Full() {
		t.Fatalf("buffer should report full at capacity")
	}
	if b.TryPush(0xFF) {
		t.Fatalf("push into full buffer should fail and not mutate state")
	}
	if b.Len() != 4 {
		t.Fatalf("failed push mutated length: got %d, want 4", b.Len())
	}
	for i := 0; i < 4; i++ {
		if _, ok := b.TryPop(); !ok {
			t.Fatalf("pop %d should succeed", i)
		}
	}
	if !b.Empty() {
		t.Fatalf("buffer should be empty after draining")
	}
	if _, ok := b.TryPop(); ok {
		t.Fatalf("pop from empty buffer should fail")
	}
}

func TestNewPanicsOnNonPowerOfTwo(t *testing.T) {
	for _, cap := range []int{0, 3, 5, 6, 7, 9, 100} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("New(%d) did not panic", cap)
				}
			}()
			New(cap)
		}()
	}
}

func TestNewAcceptsPowersOfTwo(t *testing.T) {
	for _, cap := range []int{1, 2, 4, 8, 16, 32, 64, 128, 256} {
		b := New(cap)
		if b.Cap() != cap {
			t.Errorf("New(%d).Cap() = %d", cap, b.Cap())
		}
	}
}
