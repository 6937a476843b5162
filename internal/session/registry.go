// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"encoding/json"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Mode distinguishes live playback from background recording.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeRecord Mode = "record"
)

// Session is one active stream session held by the orchestrator.
type Session struct {
	ID        string
	Mode      Mode
	ChannelID string
	ProgramID int
	Offset    int64
	ClientIP  string
	UserAgent string
	StartedAt time.Time

	bytes atomic.Int64
	state atomic.Value // string

	mu   sync.Mutex
	stop func()
}

// AddBytes records n bytes delivered to the client.
func (s *Session) AddBytes(n int) {
	s.bytes.Add(int64(n))
}

// BytesSent returns the bytes delivered so far.
func (s *Session) BytesSent() int64 {
	return s.bytes.Load()
}

// State returns "starting", "active" or "stopping".
func (s *Session) State() string {
	if v, ok := s.state.Load().(string); ok {
		return v
	}
	return ""
}

func (s *Session) setState(state string) {
	s.state.Store(state)
}

func (s *Session) setStop(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = fn
}

// Stop asks the session to end. It never blocks.
func (s *Session) Stop() {
	s.mu.Lock()
	fn := s.stop
	s.mu.Unlock()
	s.setState("stopping")
	if fn != nil {
		fn()
	}
}

// MarshalJSON renders the session for GET /sessions.
func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string    `json:"id"`
		Mode      Mode      `json:"mode"`
		ChannelID string    `json:"channel_id"`
		ProgramID int       `json:"program_id"`
		Offset    int64     `json:"offset"`
		ClientIP  string    `json:"client_ip"`
		UserAgent string    `json:"user_agent,omitempty"`
		StartedAt time.Time `json:"started_at"`
		BytesSent int64     `json:"bytes_sent"`
		State     string    `json:"state"`
	}{
		ID:        s.ID,
		Mode:      s.Mode,
		ChannelID: s.ChannelID,
		ProgramID: s.ProgramID,
		Offset:    s.Offset,
		ClientIP:  s.ClientIP,
		UserAgent: s.UserAgent,
		StartedAt: s.StartedAt,
		BytesSent: s.BytesSent(),
		State:     s.State(),
	})
}

// Registry tracks active sessions.
type Registry struct {
	sessions sync.Map // map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register assigns an id to s and stores it.
func (r *Registry) Register(s *Session) *Session {
	s.ID = uuid.New().String()
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	s.setState("starting")
	r.sessions.Store(s.ID, s)
	return s
}

func (r *Registry) Unregister(id string) {
	r.sessions.Delete(id)
}

func (r *Registry) Get(id string) *Session {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*Session)
	}
	return nil
}

// Terminate stops and forgets the session with id.
func (r *Registry) Terminate(id string) bool {
	if v, ok := r.sessions.LoadAndDelete(id); ok {
		v.(*Session).Stop()
		return true
	}
	return false
}

// List returns sessions of mode (all when empty), oldest first.
func (r *Registry) List(mode Mode) []*Session {
	var list []*Session
	r.sessions.Range(func(_, value any) bool {
		s := value.(*Session)
		if mode == "" || s.Mode == mode {
			list = append(list, s)
		}
		return true
	})
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list
}

// Count returns the number of sessions of mode (all when empty).
func (r *Registry) Count(mode Mode) int {
	n := 0
	r.sessions.Range(func(_, value any) bool {
		if mode == "" || value.(*Session).Mode == mode {
			n++
		}
		return true
	})
	return n
}

// ClientIP normalises a request RemoteAddr: port stripped, IPv4-mapped prefix removed.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return strings.TrimPrefix(host, "::ffff:")
}
