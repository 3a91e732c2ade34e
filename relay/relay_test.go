package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestSignal_SplitJoin(t *testing.T) {
	tests := []struct {
		name   string
		value  uint64
		hi, lo uint32
	}{
		{"zero", 0, 0, 0},
		{"low only", 42, 0, 42},
		{"high only", 1 << 32, 1, 0},
		{"both", 0x0000_002a_0000_0007, 0x2a, 0x7},
		{"max", ^uint64(0), ^uint32(0), ^uint32(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := SignalOf(tt.value)
			if s.Hi != tt.hi || s.Lo != tt.lo {
				t.Errorf("SignalOf(%#x) = %+v, want hi=%#x lo=%#x", tt.value, s, tt.hi, tt.lo)
			}
			if s.Value() != tt.value {
				t.Errorf("Value() = %#x, want %#x", s.Value(), tt.value)
			}
		})
	}
}

func TestSignal_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(Signal{Hi: 0, Lo: 42})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"signal_hi":0,"signal_lo":42}` {
		t.Errorf("json = %s", data)
	}
}

func TestRelay_PostsEachCallOnceInOrder(t *testing.T) {
	var got []Signal
	r := New(OutboxFunc(func(s Signal) { got = append(got, s) }))

	calls := []Signal{{0, 42}, {1, 2}, {1, 2}, {^uint32(0), 0}}
	for _, c := range calls {
		r.PostSignal(c.Hi, c.Lo)
	}

	if len(got) != len(calls) {
		t.Fatalf("got %d signals, want %d", len(got), len(calls))
	}
	for i := range calls {
		if got[i] != calls[i] {
			t.Errorf("signal %d = %+v, want %+v", i, got[i], calls[i])
		}
	}
	if r.Count() != uint64(len(calls)) {
		t.Errorf("Count() = %d", r.Count())
	}
}

func TestRelay_NilOutbox(t *testing.T) {
	r := New(nil)
	r.PostSignal(1, 2)
	if r.Count() != 1 {
		t.Errorf("Count() = %d", r.Count())
	}
}

func TestMailbox_Order(t *testing.T) {
	mb := NewMailbox[Signal]()

	const n = 1000
	for i := 0; i < n; i++ {
		mb.Post(Signal{Lo: uint32(i)})
	}
	mb.Close()

	i := 0
	for s := range mb.C() {
		if s.Lo != uint32(i) {
			t.Fatalf("item %d = %d", i, s.Lo)
		}
		i++
	}
	if i != n {
		t.Errorf("received %d, want %d", i, n)
	}
}

func TestMailbox_PostDoesNotBlockWithoutReader(t *testing.T) {
	mb := NewMailbox[int]()
	defer mb.Discard()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			mb.Post(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Post blocked with no reader")
	}
}

func TestMailbox_PostAfterCloseDropped(t *testing.T) {
	mb := NewMailbox[int]()
	mb.Post(1)
	mb.Close()
	mb.Close()
	mb.Post(2)

	var got []int
	for v := range mb.C() {
		got = append(got, v)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("got %v, want [1]", got)
	}
}

func TestMailbox_DiscardReleasesWithoutReader(t *testing.T) {
	mb := NewMailbox[int]()
	for i := 0; i < 100; i++ {
		mb.Post(i)
	}
	mb.Close()
	mb.Discard()
	mb.Discard()
	mb.Post(100)

	if n := mb.Len(); n != 0 {
		t.Errorf("Len after Discard = %d", n)
	}

	// The pump may hand over the item it was blocked on, nothing more.
	got := 0
	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-mb.C():
			if !ok {
				if got > 1 {
					t.Errorf("received %d items after Discard", got)
				}
				return
			}
			got++
		case <-timeout:
			t.Fatal("C not closed after Discard")
		}
	}
}

func TestMailbox_Len(t *testing.T) {
	mb := NewMailbox[int]()
	defer mb.Discard()

	for i := 0; i < 3; i++ {
		mb.Post(i)
	}
	if n := mb.Len(); n != 3 {
		t.Fatalf("Len = %d, want 3", n)
	}

	if v := <-mb.C(); v != 0 {
		t.Fatalf("first item = %d", v)
	}
	deadline := time.Now().Add(5 * time.Second)
	for mb.Len() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Len = %d after one receive, want 2", mb.Len())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMailbox_PerProducerOrder(t *testing.T) {
	type item struct{ producer, seq int }
	mb := NewMailbox[item]()

	const producers, perProducer = 4, 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				mb.Post(item{p, i})
			}
		}(p)
	}
	go func() {
		wg.Wait()
		mb.Close()
	}()

	next := make([]int, producers)
	total := 0
	for it := range mb.C() {
		if it.seq != next[it.producer] {
			t.Fatalf("producer %d: got seq %d, want %d", it.producer, it.seq, next[it.producer])
		}
		next[it.producer]++
		total++
	}
	if total != producers*perProducer {
		t.Errorf("received %d items", total)
	}
}

func TestMailbox_AsOutbox(t *testing.T) {
	mb := NewMailbox[Signal]()
	var out Outbox = mb
	r := New(out)
	r.PostSignal(0, 42)
	mb.Close()

	s, ok := <-mb.C()
	if !ok || s != (Signal{Hi: 0, Lo: 42}) {
		t.Errorf("got %+v ok=%v", s, ok)
	}
}
