package gateway

import (
	"sync"
	"time"
)

const (
	// sessionHistoryCapacity bounds each variant's request-history ring (§3).
	sessionHistoryCapacity = 30

	// NormalPlaybackRange is the segment-distance threshold the intent
	// analyzer uses to separate ordinary seeks from player-internal
	// buffering/prefetch jumps (§4.9).
	NormalPlaybackRange = 20
)

// historyEntry is one observed (segment, time) pair in a variant's ring.
type historyEntry struct {
	Segment SegmentIndex
	At      time.Time
}

// VariantState tracks one client's request history against one variant.
type VariantState struct {
	history           []historyEntry
	PrimaryPosition   SegmentIndex
	TranscodingPosition *SegmentIndex
	LastRequestTime   time.Time
	Active            bool
}

func (v *VariantState) push(segment SegmentIndex, at time.Time) {
	v.history = append(v.history, historyEntry{Segment: segment, At: at})
	if len(v.history) > sessionHistoryCapacity {
		v.history = v.history[len(v.history)-sessionHistoryCapacity:]
	}
}

// ClientSession is the per-client request-tracking record (§3
// ClientSession), keyed by ClientId = hash(remoteAddr, userAgent).
type ClientSession struct {
	LastRequestTime     time.Time
	VideoId             VideoId
	CurrentActiveVariant VariantLabel
	Variants            map[VariantLabel]*VariantState
}

// Intent enumerates the playback-intent classifications from §4.9.
type Intent string

const (
	IntentInitialLoading    Intent = "initial_loading"
	IntentInitialBuffering  Intent = "initial_buffering"
	IntentPrefetching       Intent = "prefetching"
	IntentUserSeek          Intent = "user_seek"
	IntentSequential        Intent = "sequential"
	IntentBuffering         Intent = "buffering"
)

// RequestAnalysis is C9's ephemeral per-request output (§3).
type RequestAnalysis struct {
	Intent                 Intent
	IsNormalPlayerBehavior bool
}

// SessionTracker implements the Client Session Tracker & Intent Analyzer
// (C9).
type SessionTracker struct {
	mu       sync.Mutex
	sessions map[ClientId]*ClientSession

	onVariantDemoted func(videoId VideoId, clientId ClientId, variant VariantLabel)
}

// NewSessionTracker creates an empty SessionTracker. onVariantDemoted, if
// non-nil, is invoked whenever a client's active variant switches away
// from a previously-active one, so the caller (the orchestrator) can mark
// the demoted variant's task for cooldown.
func NewSessionTracker(onVariantDemoted func(videoId VideoId, clientId ClientId, variant VariantLabel)) *SessionTracker {
	return &SessionTracker{sessions: make(map[ClientId]*ClientSession), onVariantDemoted: onVariantDemoted}
}

// Update implements C9's update operation: creates a session on first
// sight, appends to the variant's history ring, updates the active
// variant (switching to any equal-or-higher priority variant the client
// requests), and returns the classified RequestAnalysis.
func (s *SessionTracker) Update(clientId ClientId, videoId VideoId, variant Variant, segment SegmentIndex) RequestAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	session, ok := s.sessions[clientId]
	if !ok {
		session = &ClientSession{VideoId: videoId, Variants: make(map[VariantLabel]*VariantState)}
		s.sessions[clientId] = session
	}
	session.LastRequestTime = now
	session.VideoId = videoId

	vs, ok := session.Variants[variant.Label]
	if !ok {
		vs = &VariantState{}
		session.Variants[variant.Label] = vs
	}

	var lastSegment SegmentIndex
	historyLen := len(vs.history)
	if historyLen > 0 {
		lastSegment = vs.history[historyLen-1].Segment
	}

	vs.push(segment, now)
	vs.LastRequestTime = now
	vs.PrimaryPosition = segment

	s.promoteActiveVariant(session, variant, clientId, videoId)

	analysis := classifyIntent(vs.history, segment, lastSegment, historyLen)
	return analysis
}

// promoteActiveVariant switches the session's active variant to variant
// when it has equal or higher priority than the current one, per §4.9.
func (s *SessionTracker) promoteActiveVariant(session *ClientSession, variant Variant, clientId ClientId, videoId VideoId) {
	if session.CurrentActiveVariant == "" {
		session.CurrentActiveVariant = variant.Label
		if vs, ok := session.Variants[variant.Label]; ok {
			vs.Active = true
		}
		return
	}
	if session.CurrentActiveVariant == variant.Label {
		return
	}

	currentPriority := 0
	if cur, ok := session.Variants[session.CurrentActiveVariant]; ok && cur.Active {
		currentPriority = priorityOfLabel(session.CurrentActiveVariant)
	}
	if variant.Priority() >= currentPriority {
		demoted := session.CurrentActiveVariant
		if vs, ok := session.Variants[demoted]; ok {
			vs.Active = false
		}
		session.CurrentActiveVariant = variant.Label
		if vs, ok := session.Variants[variant.Label]; ok {
			vs.Active = true
		}
		if s.onVariantDemoted != nil {
			s.onVariantDemoted(videoId, clientId, demoted)
		}
	}
}

func priorityOfLabel(label VariantLabel) int {
	return Variant{Label: label}.Priority()
}

// classifyIntent implements the decision rules from §4.9 in order.
func classifyIntent(history []historyEntry, current, last SegmentIndex, historyLenBeforePush int) RequestAnalysis {
	if historyLenBeforePush < 3 {
		return RequestAnalysis{Intent: IntentInitialLoading, IsNormalPlayerBehavior: true}
	}

	jumps, sequentialMoves := countJumpsAndSequential(history)

	if (jumps > 0 || sequentialMoves > 0) && jumps > 0 && historyLenBeforePush < 15 {
		return RequestAnalysis{Intent: IntentInitialBuffering, IsNormalPlayerBehavior: true}
	}

	if jumps > 2 && historyLenBeforePush < 20 {
		return RequestAnalysis{Intent: IntentPrefetching, IsNormalPlayerBehavior: true}
	}

	delta := int(current) - int(last)
	absDelta := delta
	if absDelta < 0 {
		absDelta = -absDelta
	}

	if absDelta > NormalPlaybackRange && historyLenBeforePush > 15 {
		return RequestAnalysis{Intent: IntentUserSeek, IsNormalPlayerBehavior: false}
	}

	if delta >= 1 && delta <= 5 {
		return RequestAnalysis{Intent: IntentSequential, IsNormalPlayerBehavior: true}
	}

	return RequestAnalysis{Intent: IntentBuffering, IsNormalPlayerBehavior: true}
}

// countJumpsAndSequential classifies consecutive history deltas as large
// jumps (beyond NormalPlaybackRange) versus sequential moves ([1..5]).
func countJumpsAndSequential(history []historyEntry) (jumps, sequential int) {
	for i := 1; i < len(history); i++ {
		delta := int(history[i].Segment) - int(history[i-1].Segment)
		abs := delta
		if abs < 0 {
			abs = -abs
		}
		switch {
		case abs > NormalPlaybackRange:
			jumps++
		case delta >= 1 && delta <= 5:
			sequential++
		}
	}
	return jumps, sequential
}

// Purge removes clientId's session entirely (used by the janitor).
func (s *SessionTracker) Purge(clientId ClientId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, clientId)
}

// Snapshot returns a shallow copy of tracked sessions, for the janitor.
func (s *SessionTracker) Snapshot() map[ClientId]*ClientSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ClientId]*ClientSession, len(s.sessions))
	for k, v := range s.sessions {
		out[k] = v
	}
	return out
}
