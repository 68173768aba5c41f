package inference

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/cli-analytics/internal/model"
)

// DefaultGap is the inactivity threshold that separates sessions.
const DefaultGap = 30 * time.Minute

// OpenSession is the actor's most recent still-open session with its events.
type OpenSession struct {
	Session *model.Session
	Events  []model.SanitizedEvent
}

// SessionBatch is one session touched by a sessionize call.
type SessionBatch struct {
	Session  *model.Session
	Events   []model.SanitizedEvent // full membership, ordered by client time
	Added    []string               // ids of events newly assigned on this pass
	Created  bool
	Extended bool // an existing open session received events
	Closing  bool // transitioned from open to closed on this pass
}

// Sessionizer groups one actor's events into sessions using the inactivity gap.
type Sessionizer struct {
	gap   time.Duration
	newID func() string
}

// NewSessionizer creates a Sessionizer. A non-positive gap uses DefaultGap.
func NewSessionizer(gap time.Duration) *Sessionizer {
	if gap <= 0 {
		gap = DefaultGap
	}
	return &Sessionizer{gap: gap, newID: uuid.NewString}
}

// Gap returns the configured inactivity threshold.
func (s *Sessionizer) Gap() time.Duration { return s.gap }

// Sessionize assigns unprocessed events to sessions. open is the actor's latest
// open session, or nil. Sessions closed before this call are never touched: an
// event that predates the open session starts a session of its own instead of
// reopening history. Sessions idle for longer than the gap at boundary are
// closed; callers holding back more events pass the last event's time.
func (s *Sessionizer) Sessionize(tenantID, actorHash string, open *OpenSession, events []model.SanitizedEvent, boundary time.Time) []*SessionBatch {
	sorted := make([]model.SanitizedEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ClientTime.Before(sorted[j].ClientTime)
	})

	var pending *SessionBatch
	if open != nil && open.Session != nil {
		sess := *open.Session
		sess.EventIDs = append([]string(nil), open.Session.EventIDs...)
		pending = &SessionBatch{
			Session: &sess,
			Events:  append([]model.SanitizedEvent(nil), open.Events...),
		}
	}

	var out []*SessionBatch
	var cur *SessionBatch
	for _, ev := range sorted {
		if cur != nil {
			if s.fits(cur, &ev) {
				cur.add(ev)
				continue
			}
			s.close(cur)
			cur = nil
		}
		if pending != nil {
			if s.fits(pending, &ev) {
				cur, pending = pending, nil
				cur.Extended = true
				cur.add(ev)
				out = append(out, cur)
				continue
			}
			if !ev.ClientTime.Before(pending.Session.EndedAt) {
				// Past the open session's window: it is finished.
				s.close(pending)
				out = append(out, pending)
				pending = nil
			}
		}
		cur = s.start(tenantID, actorHash, ev)
		out = append(out, cur)
	}

	if cur != nil && (pending != nil || boundary.Sub(cur.Session.EndedAt) > s.gap) {
		s.close(cur)
	}
	if pending != nil && boundary.Sub(pending.Session.EndedAt) > s.gap {
		s.close(pending)
		out = append(out, pending)
	}
	return out
}

// fits reports whether ev may join b without crossing a session boundary.
func (s *Sessionizer) fits(b *SessionBatch, ev *model.SanitizedEvent) bool {
	sess := b.Session
	if ev.CI != sess.CI {
		return false
	}
	if ev.SessionHintHash != "" && sess.SessionHintHash != "" && ev.SessionHintHash != sess.SessionHintHash {
		return false
	}
	if ev.ClientTime.Sub(sess.EndedAt) > s.gap {
		return false
	}
	return sess.StartedAt.Sub(ev.ClientTime) <= s.gap
}

func (s *Sessionizer) start(tenantID, actorHash string, ev model.SanitizedEvent) *SessionBatch {
	b := &SessionBatch{
		Session: &model.Session{
			ID:              s.newID(),
			TenantID:        tenantID,
			ActorHash:       actorHash,
			SessionHintHash: ev.SessionHintHash,
			CI:              ev.CI,
			StartedAt:       ev.ClientTime,
			EndedAt:         ev.ClientTime,
		},
		Created: true,
	}
	b.add(ev)
	return b
}

func (s *Sessionizer) close(b *SessionBatch) {
	if !b.Session.Closed {
		b.Session.Closed = true
		b.Closing = true
	}
}

// add inserts ev in time order and widens the session bounds.
func (b *SessionBatch) add(ev model.SanitizedEvent) {
	i := sort.Search(len(b.Events), func(i int) bool {
		return b.Events[i].ClientTime.After(ev.ClientTime)
	})
	b.Events = append(b.Events, model.SanitizedEvent{})
	copy(b.Events[i+1:], b.Events[i:])
	b.Events[i] = ev

	b.Session.EventIDs = make([]string, len(b.Events))
	for j := range b.Events {
		b.Session.EventIDs[j] = b.Events[j].ID
	}
	b.Added = append(b.Added, ev.ID)

	sess := b.Session
	if ev.ClientTime.Before(sess.StartedAt) {
		sess.StartedAt = ev.ClientTime
	}
	if ev.ClientTime.After(sess.EndedAt) {
		sess.EndedAt = ev.ClientTime
	}
	if sess.SessionHintHash == "" {
		sess.SessionHintHash = ev.SessionHintHash
	}
}
