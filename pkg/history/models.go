package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultKeepSessions is how many finished sessions the store retains.
const DefaultKeepSessions = 20

// Entry is one recognized and translated line within a session.
type Entry struct {
	ID         uuid.UUID
	RecordedAt time.Time
	Recognized string
	Translated string
}

// Session is a recorded capture session.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time
	EndedAt   time.Time
	Locale    string
	Entries   []Entry
	// EntryCount is filled by ListSessions, which does not load entries.
	EntryCount int
}

// Duration renders the session length as m:ss.
func (s Session) Duration() string {
	d := s.EndedAt.Sub(s.StartedAt)
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
