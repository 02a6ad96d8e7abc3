package ice

import (
	"errors"
	"reflect"
	"testing"

	"interview_room/native/internal/domain"
)

// mockConn records applied candidates.
type mockConn struct {
	remoteSet bool
	applied   []string
	failOn    map[string]bool
}

func (m *mockConn) HasRemoteDescription() bool { return m.remoteSet }
func (m *mockConn) AddICECandidate(c domain.ICECandidate) error {
	if m.failOn[c.Candidate] {
		return errors.New("stale candidate")
	}
	m.applied = append(m.applied, c.Candidate)
	return nil
}

type sent struct {
	target    domain.PeerHandle
	candidate string
}

func cand(s string) domain.ICECandidate { return domain.ICECandidate{Candidate: s} }

func TestIncoming_QueuedUntilRemoteDescription(t *testing.T) {
	q := NewQueue(func(domain.PeerHandle, domain.ICECandidate) {})
	pc := &mockConn{}

	q.EnqueueIncoming(pc, cand("a"))
	q.EnqueueIncoming(pc, cand("b"))
	q.EnqueueIncoming(nil, cand("c"))

	if len(pc.applied) != 0 {
		t.Fatalf("expected nothing applied before remote description, got %v", pc.applied)
	}

	pc.remoteSet = true
	if n := q.FlushIncoming(pc); n != 3 {
		t.Fatalf("expected 3 applied, got %d", n)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(pc.applied, want) {
		t.Errorf("expected %v, got %v", want, pc.applied)
	}
}

func TestIncoming_AppliedImmediatelyOnceRemoteSet(t *testing.T) {
	q := NewQueue(func(domain.PeerHandle, domain.ICECandidate) {})
	pc := &mockConn{remoteSet: true}

	q.EnqueueIncoming(pc, cand("a"))

	if want := []string{"a"}; !reflect.DeepEqual(pc.applied, want) {
		t.Errorf("expected %v, got %v", want, pc.applied)
	}
	if in, _ := q.Pending(); in != 0 {
		t.Errorf("expected empty incoming queue, got %d", in)
	}
}

func TestIncoming_InterleavedArrivalKeepsOrderAndAppliesOnce(t *testing.T) {
	q := NewQueue(func(domain.PeerHandle, domain.ICECandidate) {})
	pc := &mockConn{}

	q.EnqueueIncoming(pc, cand("1"))
	q.EnqueueIncoming(pc, cand("2"))
	pc.remoteSet = true
	q.FlushIncoming(pc)
	q.EnqueueIncoming(pc, cand("3"))
	q.FlushIncoming(pc)
	q.EnqueueIncoming(pc, cand("4"))

	if want := []string{"1", "2", "3", "4"}; !reflect.DeepEqual(pc.applied, want) {
		t.Errorf("expected %v, got %v", want, pc.applied)
	}
}

func TestFlushIncoming_SkipsFailuresAndContinues(t *testing.T) {
	q := NewQueue(func(domain.PeerHandle, domain.ICECandidate) {})
	pc := &mockConn{failOn: map[string]bool{"bad": true}}

	q.EnqueueIncoming(pc, cand("a"))
	q.EnqueueIncoming(pc, cand("bad"))
	q.EnqueueIncoming(pc, cand("c"))
	pc.remoteSet = true

	if n := q.FlushIncoming(pc); n != 2 {
		t.Fatalf("expected 2 applied, got %d", n)
	}
	if want := []string{"a", "c"}; !reflect.DeepEqual(pc.applied, want) {
		t.Errorf("expected %v, got %v", want, pc.applied)
	}
}

func TestFlushIncoming_SecondFlushIsNoop(t *testing.T) {
	q := NewQueue(func(domain.PeerHandle, domain.ICECandidate) {})
	pc := &mockConn{}
	q.EnqueueIncoming(pc, cand("a"))
	pc.remoteSet = true

	q.FlushIncoming(pc)
	if n := q.FlushIncoming(pc); n != 0 {
		t.Errorf("expected second flush to apply nothing, got %d", n)
	}
	if len(pc.applied) != 1 {
		t.Errorf("expected candidate applied once, got %v", pc.applied)
	}
}

func TestOutgoing_HeldUntilTargetKnown(t *testing.T) {
	var out []sent
	q := NewQueue(func(target domain.PeerHandle, c domain.ICECandidate) {
		out = append(out, sent{target, c.Candidate})
	})

	q.EnqueueOutgoing(cand("x"))
	q.EnqueueOutgoing(cand("y"))
	if len(out) != 0 {
		t.Fatalf("expected nothing sent without target, got %v", out)
	}

	q.FlushOutgoing("peer-1")
	q.EnqueueOutgoing(cand("z"))

	want := []sent{{"peer-1", "x"}, {"peer-1", "y"}, {"peer-1", "z"}}
	if !reflect.DeepEqual(out, want) {
		t.Errorf("expected %v, got %v", want, out)
	}
}

func TestOutgoing_ClearTargetHoldsAgain(t *testing.T) {
	var out []sent
	q := NewQueue(func(target domain.PeerHandle, c domain.ICECandidate) {
		out = append(out, sent{target, c.Candidate})
	})
	q.FlushOutgoing("old")
	q.ClearTarget()
	q.EnqueueOutgoing(cand("x"))
	if len(out) != 0 {
		t.Fatalf("expected candidate held after ClearTarget, got %v", out)
	}
	q.FlushOutgoing("new")
	if want := []sent{{"new", "x"}}; !reflect.DeepEqual(out, want) {
		t.Errorf("expected %v, got %v", want, out)
	}
}

func TestReset_DropsEverything(t *testing.T) {
	var out []sent
	q := NewQueue(func(target domain.PeerHandle, c domain.ICECandidate) {
		out = append(out, sent{target, c.Candidate})
	})
	q.EnqueueIncoming(nil, cand("in"))
	q.EnqueueOutgoing(cand("out"))

	q.Reset()

	if in, o := q.Pending(); in != 0 || o != 0 {
		t.Errorf("expected empty queues, got incoming=%d outgoing=%d", in, o)
	}
	q.FlushOutgoing("peer")
	if len(out) != 0 {
		t.Errorf("expected no candidates sent after reset, got %v", out)
	}
}
