// Package bus carries messages between page-side engines and the settings service.
//
// Requests go to the single handler registered for their action and are awaited.
// Notifications are fire-and-forget. Tabs subscribe by ID to receive pushes.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/members-filter/pkg/models"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

// Action names a message type
type Action string

const (
	ActionContentScriptReady Action = "content-script-ready" // page -> settings, announce
	ActionIsEnabled          Action = "is-extension-enabled" // page -> settings, request
	ActionGetWhitelist       Action = "get-whitelist"        // page -> settings, request
	ActionItemsBlocked       Action = "items-blocked"        // page -> settings, notification
	ActionGetStats           Action = "get-stats"            // popup -> settings, request
	ActionWhitelistChanged   Action = "whitelist-changed"    // settings -> page
	ActionToggleBlocking     Action = "toggle-blocking"      // settings -> page
	ActionClearCache         Action = "clear-cache"          // settings -> page
	ActionStatsUpdated       Action = "stats-updated"        // settings -> listeners
)

// tabBuffer is how many pushes a tab can fall behind before messages are dropped
const tabBuffer = 32

// Message is one bus envelope. Only the fields relevant to Action are set.
type Message struct {
	Action    Action        `json:"action"`
	TabID     string        `json:"tabId,omitempty"`
	Enabled   bool          `json:"enabled,omitempty"`
	Whitelist []string      `json:"whitelist,omitempty"`
	Count     int           `json:"count,omitempty"`
	Stats     *models.Stats `json:"stats,omitempty"`
}

// Response answers a request
type Response struct {
	Enabled   bool         `json:"enabled"`
	Whitelist []string     `json:"whitelist,omitempty"`
	Stats     models.Stats `json:"stats"`
}

// Handler serves one action
type Handler func(ctx context.Context, msg Message) (Response, error)

// Bus routes requests to handlers and pushes to subscribed tabs
type Bus struct {
	mu       sync.RWMutex
	handlers map[Action]Handler
	tabs     map[string]chan Message
	pending  sync.WaitGroup
	log      *logrus.Entry
}

// New creates an empty Bus
func New(log *logrus.Entry) *Bus {
	return &Bus{
		handlers: make(map[Action]Handler),
		tabs:     make(map[string]chan Message),
		log:      log,
	}
}

// Handle registers h for action, replacing any previous handler
func (b *Bus) Handle(action Action, h Handler) {
	b.mu.Lock()
	b.handlers[action] = h
	b.mu.Unlock()
}

func (b *Bus) handler(action Action) (Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[action]
	return h, ok
}

// Request delivers msg to its handler and waits for the answer
func (b *Bus) Request(ctx context.Context, msg Message) (Response, error) {
	h, ok := b.handler(msg.Action)
	if !ok {
		return Response{}, fmt.Errorf("%w: %s", utils.ErrNoHandler, msg.Action)
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	return h(ctx, msg)
}

// Notify delivers msg to its handler without waiting. Failures are logged only.
func (b *Bus) Notify(ctx context.Context, msg Message) {
	h, ok := b.handler(msg.Action)
	if !ok {
		b.log.WithField("action", msg.Action).Debug("No handler for notification, dropping")
		return
	}
	b.pending.Add(1)
	go func() {
		defer b.pending.Done()
		if _, err := h(context.WithoutCancel(ctx), msg); err != nil {
			b.log.WithFields(logrus.Fields{
				"action":         msg.Action,
				"error_category": utils.CategorizeError(err),
			}).Warnf("Notification handler failed: %v", err)
		}
	}()
}

// Wait blocks until every notification handler started so far has returned
func (b *Bus) Wait() { b.pending.Wait() }

// Subscribe registers a tab and returns its inbox and an unsubscribe function
func (b *Bus) Subscribe(tabID string) (<-chan Message, func()) {
	ch := make(chan Message, tabBuffer)
	b.mu.Lock()
	if old, ok := b.tabs[tabID]; ok {
		close(old)
	}
	b.tabs[tabID] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if b.tabs[tabID] == ch {
				delete(b.tabs, tabID)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

// Tabs returns the IDs of subscribed tabs
func (b *Bus) Tabs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.tabs))
	for id := range b.tabs {
		ids = append(ids, id)
	}
	return ids
}

// Send pushes msg to one tab. Reports false when the tab is unknown or its inbox is full.
func (b *Bus) Send(tabID string, msg Message) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.tabs[tabID]
	if !ok {
		return false
	}
	return b.deliver(tabID, ch, msg)
}

// Broadcast pushes msg to every tab and returns how many received it
func (b *Bus) Broadcast(msg Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for id, ch := range b.tabs {
		if b.deliver(id, ch, msg) {
			delivered++
		}
	}
	return delivered
}

// deliver never blocks. Caller holds at least the read lock so ch cannot be closed concurrently.
func (b *Bus) deliver(tabID string, ch chan Message, msg Message) bool {
	select {
	case ch <- msg:
		return true
	default:
		b.log.WithFields(logrus.Fields{"tab": tabID, "action": msg.Action}).Warn("Tab inbox full, dropping message")
		return false
	}
}
