package monitor

import (
	"fmt"
	"testing"

	"github.com/q360/livemonitor/pkg/types"
)

func TestAuditLogStream_Ring(t *testing.T) {
	ch := newFakeChannel()
	s := NewAuditLogStream(ch, 3, nil)

	var seen []int64
	s.OnEntry(func(e types.AuditLogEntry) { seen = append(seen, e.ID) })

	for i := 1; i <= 5; i++ {
		ch.deliver(t, fmt.Sprintf(`{"type":"new_log","data":{"id":%d,"user":"alice","action":"login","threat_score":10,"threat_level":"low"}}`, i))
	}

	snap := s.Snapshot()
	if len(snap.Entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(snap.Entries))
	}
	if snap.Entries[0].ID != 5 || snap.Entries[2].ID != 3 {
		t.Errorf("Expected newest first, got %d..%d", snap.Entries[0].ID, snap.Entries[2].ID)
	}
	if snap.Total != 5 {
		t.Errorf("Expected total 5, got %d", snap.Total)
	}
	if len(seen) != 5 {
		t.Errorf("Expected callback per entry, got %v", seen)
	}
}

func TestAuditLogStream_DefaultSize(t *testing.T) {
	ch := newFakeChannel()
	s := NewAuditLogStream(ch, 0, nil)
	if s.size != DefaultAuditLogSize {
		t.Errorf("Expected size %d, got %d", DefaultAuditLogSize, s.size)
	}

	ch.deliver(t, `{"type":"new_log","data":"not an entry"}`)
	if s.Snapshot().Total != 0 {
		t.Error("Expected malformed entry to be dropped")
	}

	s.Start()
	s.Stop()
	if ch.connects != 1 || ch.teardowns != 1 {
		t.Errorf("Expected connect and teardown, got %d/%d", ch.connects, ch.teardowns)
	}
}
