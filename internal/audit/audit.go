// Package audit persists an append-only trail of connection and session
// lifecycle events, keyed by session_id, for post-hoc inspection. It is
// never consulted by the protocol core: the core's state machines are fully
// self-contained, and a Recorder only observes decisions the core already
// made.
package audit

import (
	"time"

	"gorm.io/gorm"
)

// EventKind names the lifecycle transitions worth recording.
type EventKind string

const (
	EventConnectionAuthenticated EventKind = "connection_authenticated"
	EventSessionEstablished      EventKind = "session_established"
	EventSessionKeyUpdated       EventKind = "session_key_updated"
	EventSessionTerminated       EventKind = "session_terminated"
	EventSecurityViolation       EventKind = "security_violation"
)

// Event is one row of the audit trail.
type Event struct {
	gorm.Model
	SessionID uint32 `gorm:"index"`
	Kind      EventKind
	Detail    string
	At        time.Time
}

// Recorder appends Events to a GORM-backed table, migrating the schema on
// first use.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder wraps db, running AutoMigrate for the Event model.
func NewRecorder(db *gorm.DB) (*Recorder, error) {
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, err
	}
	return &Recorder{db: db}, nil
}

// Record appends one Event. A failure to write the audit trail is returned
// to the caller, not propagated into the protocol state machine: audit is
// observational, never load-bearing for the handshake itself.
func (r *Recorder) Record(sessionID uint32, kind EventKind, detail string) error {
	return r.db.Create(&Event{SessionID: sessionID, Kind: kind, Detail: detail, At: time.Now()}).Error
}

// ForSession returns every recorded Event for sessionID, oldest first.
func (r *Recorder) ForSession(sessionID uint32) ([]Event, error) {
	var events []Event
	err := r.db.Where("session_id = ?", sessionID).Order("id asc").Find(&events).Error
	return events, err
}
