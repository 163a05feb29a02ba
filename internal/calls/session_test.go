package calls

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTable_HappyPath(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	s, err := tbl.Begin("r1", "alice", "bob", CallerInfo{Name: "Alice"}, t0)
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if s.State != StateRinging {
		t.Errorf("state = %v, want ringing", s.State)
	}

	s, ok := tbl.Accept("r1", "bob", t0.Add(time.Second))
	if !ok {
		t.Fatal("Accept() by callee was rejected")
	}
	if s.State != StateActive {
		t.Errorf("state = %v, want active", s.State)
	}
	if !s.AnsweredAt.Equal(t0.Add(time.Second)) {
		t.Errorf("AnsweredAt = %v, want %v", s.AnsweredAt, t0.Add(time.Second))
	}

	// Duplicate accept is a no-op.
	if _, ok := tbl.Accept("r1", "bob", t0); ok {
		t.Error("second Accept() should be a no-op")
	}

	if _, ok := tbl.End("r1", "alice"); !ok {
		t.Fatal("End() by caller was rejected")
	}
	if _, ok := tbl.Get("r1"); ok {
		t.Error("session still present after End()")
	}
	if n := len(tbl.Sessions()); n != 0 {
		t.Errorf("len(Sessions()) = %d, want 0", n)
	}
}

func TestTable_Begin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		setup   func(*Table)
		caller  string
		callee  string
		wantErr error
	}{
		{
			name:   "fresh room",
			setup:  func(*Table) {},
			caller: "alice",
			callee: "bob",
		},
		{
			name: "room ringing",
			setup: func(tbl *Table) {
				tbl.Begin("r1", "alice", "bob", CallerInfo{}, t0)
			},
			caller:  "bob",
			callee:  "alice",
			wantErr: ErrBusy,
		},
		{
			name: "room active",
			setup: func(tbl *Table) {
				tbl.Begin("r1", "alice", "bob", CallerInfo{}, t0)
				tbl.Accept("r1", "bob", t0)
			},
			caller:  "alice",
			callee:  "bob",
			wantErr: ErrBusy,
		},
		{
			name:    "self call",
			setup:   func(*Table) {},
			caller:  "alice",
			callee:  "alice",
			wantErr: ErrSelfCall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tbl := NewTable()
			tt.setup(tbl)
			before, _ := tbl.Get("r1")

			_, err := tbl.Begin("r1", tt.caller, tt.callee, CallerInfo{}, t0.Add(time.Minute))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Begin() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				after, _ := tbl.Get("r1")
				if after != before {
					t.Errorf("failed Begin() modified the session: %+v -> %+v", before, after)
				}
			}
		})
	}
}

func TestTable_AcceptRejectGuards(t *testing.T) {
	t.Parallel()

	tbl := NewTable()

	if _, ok := tbl.Accept("r1", "bob", t0); ok {
		t.Error("Accept() without session should be a no-op")
	}
	if _, ok := tbl.Reject("r1", "bob"); ok {
		t.Error("Reject() without session should be a no-op")
	}

	tbl.Begin("r1", "alice", "bob", CallerInfo{}, t0)

	if _, ok := tbl.Accept("r1", "alice", t0); ok {
		t.Error("caller must not be able to accept their own call")
	}
	if _, ok := tbl.Reject("r1", "mallory"); ok {
		t.Error("outsider must not be able to reject")
	}

	s, ok := tbl.Reject("r1", "bob")
	if !ok {
		t.Fatal("Reject() by callee was rejected")
	}
	if s.Caller != "alice" {
		t.Errorf("Caller = %q, want alice", s.Caller)
	}
	if _, ok := tbl.Get("r1"); ok {
		t.Error("session still present after Reject()")
	}

	// Reject after accept is a no-op.
	tbl.Begin("r2", "alice", "bob", CallerInfo{}, t0)
	tbl.Accept("r2", "bob", t0)
	if _, ok := tbl.Reject("r2", "bob"); ok {
		t.Error("Reject() of an active session should be a no-op")
	}
}

func TestTable_EndRequiresParticipant(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	tbl.Begin("r1", "alice", "bob", CallerInfo{}, t0)

	if _, ok := tbl.End("r1", "mallory"); ok {
		t.Error("End() by outsider should be a no-op")
	}
	if _, ok := tbl.End("r1", ""); ok {
		t.Error("End() by anonymous party should be a no-op")
	}
	if _, ok := tbl.End("r1", "bob"); !ok {
		t.Error("End() by callee during ringing was rejected")
	}
}

func TestTable_Drop(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	tbl.Begin("r1", "alice", "bob", CallerInfo{}, t0)
	tbl.Begin("r2", "carol", "alice", CallerInfo{}, t0)
	tbl.Begin("r3", "bob", "carol", CallerInfo{}, t0)

	dropped := tbl.Drop("alice")
	if len(dropped) != 2 {
		t.Fatalf("Drop(alice) returned %d sessions, want 2", len(dropped))
	}
	if dropped[0].Room != "r1" || dropped[1].Room != "r2" {
		t.Errorf("dropped rooms = %s, %s; want r1, r2", dropped[0].Room, dropped[1].Room)
	}
	if n := len(tbl.Sessions()); n != 1 {
		t.Errorf("len(Sessions()) = %d, want 1", n)
	}
	if _, ok := tbl.Get("r3"); !ok {
		t.Error("unrelated session r3 was dropped")
	}

	if again := tbl.Drop("alice"); len(again) != 0 {
		t.Errorf("second Drop(alice) returned %d sessions, want 0", len(again))
	}
}

func TestTable_ExpireRinging(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	tbl.Begin("old", "alice", "bob", CallerInfo{}, t0)
	tbl.Begin("new", "carol", "dave", CallerInfo{}, t0.Add(time.Minute))
	tbl.Begin("answered", "erin", "frank", CallerInfo{}, t0)
	tbl.Accept("answered", "frank", t0)

	expired := tbl.ExpireRinging(t0.Add(30 * time.Second))
	if len(expired) != 1 || expired[0].Room != "old" {
		t.Fatalf("ExpireRinging() = %+v, want only room old", expired)
	}

	rooms := tbl.Sessions()
	if len(rooms) != 2 || rooms[0].Room != "answered" || rooms[1].Room != "new" {
		t.Errorf("remaining sessions = %+v", rooms)
	}
}

func TestSession_Peer(t *testing.T) {
	t.Parallel()

	s := Session{Caller: "alice", Callee: "bob"}
	if got := s.Peer("alice"); got != "bob" {
		t.Errorf("Peer(alice) = %q, want bob", got)
	}
	if got := s.Peer("bob"); got != "alice" {
		t.Errorf("Peer(bob) = %q, want alice", got)
	}
	if got := s.Peer("mallory"); got != "" {
		t.Errorf("Peer(mallory) = %q, want empty", got)
	}
}
