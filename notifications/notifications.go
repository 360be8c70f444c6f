package notifications

import (
	"context"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/services"
)

const listener_queue_size = 100

var (
	notificationCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memtriage_notification_count",
		Help: "Number of events queued for listeners.",
	})

	notificationDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memtriage_notification_dropped",
		Help: "Number of events dropped because a listener was too slow.",
	})
)

// Each principal has at most one listener with its own queue. Events
// for principals who are not listening are discarded.
type NotificationPool struct {
	mu      sync.Mutex
	clients map[string]chan *services.Event
	closed  bool

	limiter *rate.Limiter
}

func NewNotificationPool(config_obj *config_proto.Config) *NotificationPool {
	limit := rate.Inf
	if config_obj.Frontend != nil &&
		config_obj.Frontend.NotificationsPerSecond > 0 {
		limit = rate.Limit(config_obj.Frontend.NotificationsPerSecond)
	}

	return &NotificationPool{
		clients: make(map[string]chan *services.Event),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (self *NotificationPool) IsListening(principal string) bool {
	self.mu.Lock()
	_, pres := self.clients[principal]
	self.mu.Unlock()

	return pres
}

// Principals currently listening, sorted.
func (self *NotificationPool) Listeners() []string {
	self.mu.Lock()
	defer self.mu.Unlock()

	result := make([]string, 0, len(self.clients))
	for principal := range self.clients {
		result = append(result, principal)
	}
	sort.Strings(result)
	return result
}

// Queued events for the principal.
func (self *NotificationPool) Pending(principal string) int {
	self.mu.Lock()
	defer self.mu.Unlock()

	c, pres := self.clients[principal]
	if !pres {
		return 0
	}
	return len(c)
}

func (self *NotificationPool) Listen(principal string) (<-chan *services.Event, func()) {
	new_c := make(chan *services.Event, listener_queue_size)

	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		close(new_c)
		return new_c, func() {}
	}

	// A new listener replaces the old one. Closing the old channel
	// unblocks its reader which may still be waiting on a dropped
	// connection.
	c, pres := self.clients[principal]
	if pres {
		defer close(c)
	}
	self.clients[principal] = new_c
	self.mu.Unlock()

	return new_c, func() {
		self.mu.Lock()
		defer self.mu.Unlock()

		c, pres := self.clients[principal]
		if pres && c == new_c {
			close(c)
			delete(self.clients, principal)
		}
	}
}

// Queue the event for each principal. Delivery is paced so a large
// fan out does not starve the frontend. A listener with a full queue
// misses the event.
func (self *NotificationPool) Send(ctx context.Context,
	principals []string, event *services.Event) {

	for _, principal := range principals {
		err := self.limiter.Wait(ctx)
		if err != nil {
			return
		}

		self.mu.Lock()
		c, pres := self.clients[principal]
		if pres {
			select {
			case c <- event:
				notificationCounter.Inc()
			default:
				notificationDropped.Inc()
			}
		}
		self.mu.Unlock()
	}
}

func (self *NotificationPool) Shutdown() {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.closed {
		return
	}
	self.closed = true

	// Readers see their channel closed and exit.
	for _, c := range self.clients {
		close(c)
	}

	self.clients = make(map[string]chan *services.Event)
}
