package server

import (
	"context"
	"sync"
	"time"
)

const (
	RealtimeEventConversationChanged = "conversation-change"
	realtimeEventHeartbeat           = "heartbeat"
	realtimeSourceBackend            = "supportspark-api"
	realtimeSubscriberBuffer         = 16
)

// RealtimeMessage is delivered to every open event stream of UserID.
type RealtimeMessage struct {
	UserID          string
	EventType       string
	ConversationIDs []int64
	Timestamp       time.Time
}

// RealtimeDispatcher fans conversation changes out to subscribed users.
// Slow subscribers drop messages rather than block publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeSubscriberBuffer,
		clock:       time.Now,
	}
}

// Subscribe registers a stream for userID that is removed when ctx ends or cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(userID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message to the subscribers of message.UserID without blocking.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers[message.UserID] {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// NotifyConversationChanged publishes a conversation-change event to each user.
func (d *RealtimeDispatcher) NotifyConversationChanged(userIDs []string, conversationID int64) {
	now := d.clock().UTC()
	for _, userID := range userIDs {
		d.Publish(RealtimeMessage{
			UserID:          userID,
			EventType:       RealtimeEventConversationChanged,
			ConversationIDs: []int64{conversationID},
			Timestamp:       now,
		})
	}
}

// SubscriberCount reports the number of open streams for userID.
func (d *RealtimeDispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *RealtimeDispatcher) registerSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[userID]
	if subscribers == nil {
		return
	}
	if subscriber, ok := subscribers[subscriberID]; ok {
		close(subscriber.stream)
		delete(subscribers, subscriberID)
	}
	if len(subscribers) == 0 {
		delete(d.subscribers, userID)
	}
}
