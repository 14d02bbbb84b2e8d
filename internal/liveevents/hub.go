package liveevents

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/fx"
)

const (
	StatusAccepted     = "accepted"
	StatusDeduplicated = "deduplicated"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidOrgID   = errors.New("invalid_org_id")
)

// ReportEvent is the dashboard view of one ingested report.
type ReportEvent struct {
	ReportID  string           `json:"report_id"`
	CameraID  string           `json:"camera_id"`
	Serial    string           `json:"serial"`
	SiteID    string           `json:"site_id"`
	Counts    map[string]int64 `json:"counts"`
	Total     int64            `json:"total"`
	Timestamp string           `json:"timestamp"`
	Schema    string           `json:"schema"`
	Status    string           `json:"status"`
}

// Hub fans report events out to per-org subscribers. Each org keeps a short
// backlog while at least one subscriber is attached; slow subscribers drop events.
type Hub struct {
	mu               sync.RWMutex
	orgs             map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []ReportEvent
	subs   map[uint64]chan ReportEvent
	nextID uint64
}

type Subscription struct {
	hub   *Hub
	orgID string
	id    uint64
	ch    chan ReportEvent
	once  sync.Once
}

func NewHub() *Hub {
	return &Hub{
		orgs:             make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

var Module = fx.Module("liveevents",
	fx.Provide(NewHub),
)

// Publish never blocks the ingest path.
func (h *Hub) Publish(orgID string, event ReportEvent) {
	if h == nil {
		return
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return
	}
	h.mu.RLock()
	s := h.orgs[orgID]
	h.mu.RUnlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, event)
	if overflow := len(s.buffer) - h.bufferSize; overflow > 0 {
		s.buffer = s.buffer[overflow:]
	}
	targets := make([]chan ReportEvent, 0, len(s.subs))
	for _, ch := range s.subs {
		targets = append(targets, ch)
	}
	s.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe attaches to an org's stream and returns the current backlog.
func (h *Hub) Subscribe(orgID string) (*Subscription, []ReportEvent, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, nil, ErrInvalidOrgID
	}

	h.mu.Lock()
	s := h.orgs[orgID]
	if s == nil {
		s = &stream{subs: make(map[uint64]chan ReportEvent)}
		h.orgs[orgID] = s
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan ReportEvent, h.subscriberBuffer)
	s.subs[id] = ch
	backlog := append([]ReportEvent(nil), s.buffer...)
	s.mu.Unlock()
	h.mu.Unlock()

	return &Subscription{hub: h, orgID: orgID, id: id, ch: ch}, backlog, nil
}

func (h *Hub) unsubscribe(orgID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.orgs[orgID]
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.subs, id)
	empty := len(s.subs) == 0
	s.mu.Unlock()
	if empty {
		delete(h.orgs, orgID)
	}
}

func (s *Subscription) Events() <-chan ReportEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.orgID, s.id)
	})
}
