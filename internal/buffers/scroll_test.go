package buffers

import (
	"errors"
	"math/rand"
	"testing"
)

func visible(s *ScrollWindow[int]) []int {
	out := make([]int, s.Count())
	for i := range out {
		out[i] = s.At(i)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestScrollWindow_PushKeepsLastView(t *testing.T) {
	testCases := []struct {
		name     string
		capacity int
		view     int
		pushes   int
	}{
		{"below view", 20, 5, 3},
		{"exactly view", 20, 5, 5},
		{"no compaction", 20, 5, 17},
		{"one compaction", 20, 5, 21},
		{"many compactions", 20, 5, 500},
		{"view equals capacity", 8, 8, 100},
		{"view of one", 6, 1, 40},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewScrollWindow[int](tc.capacity, tc.view)
			if err != nil {
				t.Fatalf("Failed to create window: %v", err)
			}

			var pushed []int
			for i := 0; i < tc.pushes; i++ {
				s.Push(i)
				pushed = append(pushed, i)

				want := min(tc.view, len(pushed))
				if s.Count() != want {
					t.Fatalf("after %d pushes: expected count %d, got %d", i+1, want, s.Count())
				}
				if !equalInts(visible(s), pushed[len(pushed)-want:]) {
					t.Fatalf("after %d pushes: expected %v, got %v", i+1, pushed[len(pushed)-want:], visible(s))
				}
			}

			if !equalInts(s.Data(), visible(s)) {
				t.Errorf("Data() %v does not match indexed view %v", s.Data(), visible(s))
			}
			if s.Back() != tc.pushes-1 {
				t.Errorf("expected back %d, got %d", tc.pushes-1, s.Back())
			}
		})
	}
}

func TestScrollWindow_WriteMatchesPush(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 50; trial++ {
		capacity := 10 + rng.Intn(40)
		view := 1 + rng.Intn(capacity)

		batched, _ := NewScrollWindow[int](capacity, view)
		pushed, _ := NewScrollWindow[int](capacity, view)

		next := 0
		for step := 0; step < 60; step++ {
			batch := make([]int, rng.Intn(2*view+1))
			for i := range batch {
				batch[i] = next
				next++
			}

			batched.Write(batch)

			kept := batch
			if len(kept) > view {
				kept = kept[len(kept)-view:]
			}
			for _, v := range kept {
				pushed.Push(v)
			}

			if !equalInts(visible(batched), visible(pushed)) {
				t.Fatalf("trial %d step %d (capacity %d view %d batch %d): write %v, push %v",
					trial, step, capacity, view, len(batch), visible(batched), visible(pushed))
			}
		}
	}
}

func TestScrollWindow_OversizedBatch(t *testing.T) {
	s, _ := NewScrollWindow[int](10, 4)
	s.Write([]int{1, 2, 3, 4, 5, 6, 7})

	if !equalInts(visible(s), []int{4, 5, 6, 7}) {
		t.Errorf("expected [4 5 6 7], got %v", visible(s))
	}
	if s.Len() != 4 {
		t.Errorf("expected 4 retained values, got %d", s.Len())
	}
}

func TestScrollWindow_TailAndClear(t *testing.T) {
	s, _ := NewScrollWindow[int](10, 5)
	for i := 0; i < 8; i++ {
		s.Push(i)
	}

	if tail := s.Tail(3); !equalInts(tail, []int{5, 6, 7}) {
		t.Errorf("expected [5 6 7], got %v", tail)
	}
	if tail := s.Tail(50); !equalInts(tail, []int{3, 4, 5, 6, 7}) {
		t.Errorf("expected tail clamped to view, got %v", tail)
	}
	if s.Front() != 3 {
		t.Errorf("expected front 3, got %d", s.Front())
	}

	s.Clear()
	if s.Count() != 0 || s.Len() != 0 {
		t.Errorf("expected empty window, got count %d len %d", s.Count(), s.Len())
	}
	if s.Capacity() != 10 || s.View() != 5 {
		t.Errorf("clear must keep the geometry, got capacity %d view %d", s.Capacity(), s.View())
	}
}

func TestScrollWindow_IndexOutOfRange(t *testing.T) {
	s, _ := NewScrollWindow[int](10, 5)
	s.Push(1)

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("expected ErrIndexOutOfRange panic, got %v", r)
		}
	}()
	s.At(1)
}

func TestScrollWindow_InvalidParameters(t *testing.T) {
	testCases := []struct {
		name     string
		capacity int
		view     int
		want     error
	}{
		{"zero capacity", 0, 0, ErrInvalidCapacity},
		{"zero view", 10, 0, ErrInvalidView},
		{"view above capacity", 10, 11, ErrInvalidView},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewScrollWindow[int](tc.capacity, tc.view); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
