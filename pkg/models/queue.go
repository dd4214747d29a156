package models

import "time"

// QueueScope selects which images a queue run covers
type QueueScope string

const (
	ScopeMissing QueueScope = "missing" // Images without alt text; self-selecting, no cursor
	ScopeAll     QueueScope = "all"     // Every image, most recently generated first, paginated by cursor
)

// IsValid returns true if the scope is a known value
func (s QueueScope) IsValid() bool {
	return s == ScopeMissing || s == ScopeAll
}

// QueueStatus is the externally visible state of the queue state machine
type QueueStatus string

const (
	QueueIdle      QueueStatus = "idle"
	QueueRunning   QueueStatus = "running"
	QueueCompleted QueueStatus = "completed"
	QueueHalted    QueueStatus = "halted"
)

// String implements fmt.Stringer for logging
func (s QueueStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// MaxQueueMessages bounds the message ring buffer kept in QueueState
const MaxQueueMessages = 5

// QueueState is the persisted progress of the single background queue
type QueueState struct {
	RunID      string      `json:"run_id"`
	Scope      QueueScope  `json:"scope"`
	BatchSize  int         `json:"batch_size"`
	Cursor     int         `json:"cursor"` // Offset into the "all" scope
	Total      int         `json:"total"`  // Image count when the run started
	Processed  int         `json:"processed"`
	Errors     int         `json:"errors"`
	Attempted  int         `json:"attempted"`
	RetryCount int         `json:"retry_count"` // Consecutive API-error reschedules of the current batch
	Tried      []int64     `json:"tried,omitempty"` // Missing scope: IDs already handled this run, never picked again
	StartedAt  time.Time   `json:"started_at"`
	LastRunAt  time.Time   `json:"last_run_at,omitempty"`
	NextRunAt  time.Time   `json:"next_run_at,omitempty"`
	Messages   []string    `json:"messages,omitempty"`
	Active     bool        `json:"active"`
	Status     QueueStatus `json:"status"`
}

// AddMessage appends msg, keeping only the newest MaxQueueMessages entries
func (q *QueueState) AddMessage(msg string) {
	q.Messages = append(q.Messages, msg)
	if len(q.Messages) > MaxQueueMessages {
		q.Messages = append([]string(nil), q.Messages[len(q.Messages)-MaxQueueMessages:]...)
	}
}

// MarkTried records id as handled by this run
func (q *QueueState) MarkTried(id int64) {
	q.Tried = append(q.Tried, id)
}

// TriedSet returns Tried as a lookup set
func (q *QueueState) TriedSet() map[int64]bool {
	set := make(map[int64]bool, len(q.Tried))
	for _, id := range q.Tried {
		set[id] = true
	}
	return set
}

// Due reports whether the next scheduled tick time has passed
func (q *QueueState) Due(now time.Time) bool {
	return q.Active && !now.Before(q.NextRunAt)
}

// Stalled reports whether an active queue has gone without a tick for at least after
func (q *QueueState) Stalled(now time.Time, after time.Duration) bool {
	if !q.Active {
		return false
	}
	last := q.LastRunAt
	if last.IsZero() {
		last = q.StartedAt
	}
	return now.Sub(last) >= after
}
