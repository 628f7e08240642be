package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/docgallery/internal/gallery"
	"github.com/steveyegge/docgallery/internal/remote"
	"github.com/steveyegge/docgallery/internal/sync"
)

// SyncStateData carries a state transition.
type SyncStateData struct {
	State string `json:"state"`
}

// SyncCompleteData describes a successful cycle.
type SyncCompleteData struct {
	Backend       string        `json:"backend"`
	RemoteExisted bool          `json:"remote_existed"`
	Changed       bool          `json:"changed"`
	Overwritten   []string      `json:"overwritten,omitempty"`
	Written       int           `json:"written"`
	Warnings      []string      `json:"warnings,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// SyncFailedData describes a failed cycle.
type SyncFailedData struct {
	Backend string `json:"backend,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// StatsData contains collection statistics.
type StatsData struct {
	Documents  int        `json:"documents"`
	Images     int        `json:"images"`
	TotalBytes int64      `json:"total_bytes"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// CollectionStats summarizes c.
func CollectionStats(c gallery.Collection) StatsData {
	stats := StatsData{Documents: len(c)}
	for _, doc := range c {
		stats.Images += len(doc.Images)
		stats.TotalBytes += doc.TotalSize()
	}
	return stats
}

func newMessage(t MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s data: %w", t, err)
	}
	return Message{Type: t, Timestamp: time.Now(), Data: raw}, nil
}

// Handler turns sync observer events into feed messages.
// It implements sync.Observer.
type Handler struct {
	server *Server
	stats  func() StatsData
}

// NewHandler creates a Handler broadcasting on server. stats may be nil;
// otherwise collection stats follow every completed cycle.
func NewHandler(server *Server, stats func() StatsData) *Handler {
	return &Handler{server: server, stats: stats}
}

func (h *Handler) send(t MessageType, data any) {
	msg, err := newMessage(t, data)
	if err != nil {
		h.server.logger.Warn("dropping feed message", "error", err)
		return
	}
	h.server.Broadcast(msg)
}

// OnState implements sync.Observer.
func (h *Handler) OnState(s sync.State) {
	h.send(MessageTypeSyncState, SyncStateData{State: s.String()})
}

// OnComplete implements sync.Observer.
func (h *Handler) OnComplete(res *sync.Result, err error) {
	if err != nil {
		data := SyncFailedData{Message: sync.Message(err), Error: err.Error()}
		if res != nil {
			data.Backend = res.Backend
		}
		if re, ok := asRemote(err); ok {
			data.Kind = re.Kind.String()
			data.Status = re.Status
		}
		h.send(MessageTypeSyncFailed, data)
	} else if res != nil {
		h.send(MessageTypeSyncComplete, SyncCompleteData{
			Backend:       res.Backend,
			RemoteExisted: res.RemoteExisted,
			Changed:       res.Changed,
			Overwritten:   res.Overwritten,
			Written:       res.Written,
			Warnings:      res.Warnings,
			Duration:      res.Duration(),
		})
	}
	h.PublishStats()
}

// PublishStats broadcasts the current collection stats.
func (h *Handler) PublishStats() {
	if h.stats == nil {
		return
	}
	h.send(MessageTypeCollectionStats, h.stats())
}

func asRemote(err error) (*remote.Error, bool) {
	var re *remote.Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
