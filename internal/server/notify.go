package server

import (
	"context"
	"sync"
	"time"
)

const (
	// SyncEventProjectSynced is published after every completed sync pass.
	SyncEventProjectSynced = "project-sync"
)

// SyncNotification tells subscribers that a sync pass finished for a project.
type SyncNotification struct {
	ProjectID string
	EventType string
	Documents []string
	Decks     []string
	Degraded  bool
	Timestamp time.Time
}

// SyncNotifier fans completed-sync notifications out to per-project
// subscribers. Delivery is best effort: a slow subscriber drops messages
// rather than blocking the sync response.
type SyncNotifier struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*syncSubscriber
	nextID      int64
	bufferSize  int
}

type syncSubscriber struct {
	id     int64
	stream chan SyncNotification
}

// NewSyncNotifier constructs the notifier.
func NewSyncNotifier() *SyncNotifier {
	return &SyncNotifier{
		subscribers: make(map[string]map[int64]*syncSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers for notifications about one project until the context
// is done. The returned cancel func is idempotent.
func (n *SyncNotifier) Subscribe(ctx context.Context, projectID string) (<-chan SyncNotification, func()) {
	if projectID == "" {
		ch := make(chan SyncNotification)
		close(ch)
		return ch, func() {}
	}
	subscriber := &syncSubscriber{
		id:     n.nextSequence(),
		stream: make(chan SyncNotification, n.bufferSize),
	}
	n.register(projectID, subscriber)
	cleanup := func() {
		n.unregister(projectID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers a notification to every subscriber of its project.
func (n *SyncNotifier) Publish(notification SyncNotification) {
	if notification.ProjectID == "" || notification.EventType == "" {
		return
	}
	n.mu.RLock()
	subscribers := n.subscribers[notification.ProjectID]
	if len(subscribers) == 0 {
		n.mu.RUnlock()
		return
	}
	copies := make([]*syncSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	n.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- notification:
		default:
		}
	}
}

func (n *SyncNotifier) nextSequence() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	return n.nextID
}

func (n *SyncNotifier) register(projectID string, subscriber *syncSubscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subscribers[projectID]; !ok {
		n.subscribers[projectID] = make(map[int64]*syncSubscriber)
	}
	n.subscribers[projectID][subscriber.id] = subscriber
}

func (n *SyncNotifier) unregister(projectID string, subscriberID int64) {
	n.mu.Lock()
	subscribers := n.subscribers[projectID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(n.subscribers, projectID)
		}
	}
	n.mu.Unlock()
}
