package monitor

import (
	"sync"

	"github.com/q360/livemonitor/internal/livechannel"
	"github.com/q360/livemonitor/internal/logger"
	"github.com/q360/livemonitor/pkg/types"
)

// DefaultAuditLogSize is the number of entries AuditLogStream keeps.
const DefaultAuditLogSize = 50

// AuditLogSnapshot is the view state of the audit log stream.
type AuditLogSnapshot struct {
	Conn    ConnStatus
	Entries []types.AuditLogEntry // newest first
	Total   int                   // entries received since start
}

// AuditLogStream follows /ws/audit/logs/.
type AuditLogStream struct {
	*tracker
	ch   Channel
	log  *logger.Logger
	size int

	mu      sync.RWMutex
	entries []types.AuditLogEntry
	total   int
	onEntry func(types.AuditLogEntry)
}

// NewAuditLogStream keeps the last size entries; size <= 0 means
// DefaultAuditLogSize.
func NewAuditLogStream(ch Channel, size int, log *logger.Logger) *AuditLogStream {
	if size <= 0 {
		size = DefaultAuditLogSize
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &AuditLogStream{
		tracker: newTracker("audit_logs", ch),
		ch:      ch,
		log:     log.Component("audit_logs"),
		size:    size,
	}
	ch.OnMessage(types.KindNewLog, livechannel.HandleJSON(s.add))
	ch.OnError(func(err error) {
		s.log.Warn().Err(err).Msg("Dropped audit log message")
	})
	return s
}

// OnEntry sets a callback run for every received entry.
func (s *AuditLogStream) OnEntry(fn func(types.AuditLogEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEntry = fn
}

// Start connects the channel.
func (s *AuditLogStream) Start() {
	s.ch.Connect()
}

// Stop tears the channel down.
func (s *AuditLogStream) Stop() {
	s.ch.Teardown()
}

// Snapshot returns a copy of the current view state.
func (s *AuditLogStream) Snapshot() AuditLogSnapshot {
	conn, _ := s.snapshot()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return AuditLogSnapshot{
		Conn:    conn,
		Entries: append([]types.AuditLogEntry(nil), s.entries...),
		Total:   s.total,
	}
}

func (s *AuditLogStream) add(e types.AuditLogEntry) {
	s.mu.Lock()
	s.entries = append([]types.AuditLogEntry{e}, s.entries...)
	if len(s.entries) > s.size {
		s.entries = s.entries[:s.size]
	}
	s.total++
	fn := s.onEntry
	s.mu.Unlock()

	if fn != nil {
		fn(e)
	}
	s.signal()
}
