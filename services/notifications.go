package services

// Watchers of a dump are told when a plugin run on it finishes. The
// event only carries the new status: listeners read the result from
// the datastore.

import (
	"context"
	"sync"
	"time"

	"www.velocidex.com/golang/memtriage/models"
)

var (
	notifier_mu sync.Mutex
	g_notifier  Notifier
)

func GetNotifier() (Notifier, error) {
	notifier_mu.Lock()
	defer notifier_mu.Unlock()

	if g_notifier == nil {
		return nil, notReady("Notifier")
	}
	return g_notifier, nil
}

func RegisterNotifier(n Notifier) {
	notifier_mu.Lock()
	defer notifier_mu.Unlock()

	g_notifier = n
}

type Event struct {
	DumpID     string              `json:"dump_id"`
	PluginName string              `json:"plugin_name"`
	StatusCode models.ResultStatus `json:"status_code"`
	Timestamp  time.Time           `json:"timestamp"`

	// Preformatted for display.
	Message string `json:"message"`
}

type Notifier interface {
	// Send the event to every principal that can see the dump.
	Notify(ctx context.Context,
		dump_index, plugin_name string, status models.ResultStatus) error

	// Receive the events for the principal until the closer is
	// called.
	Listen(principal string) (<-chan *Event, func())
}
