package notifications

// The notifier tells every principal who can see a dump when a
// plugin run on it finishes. Events are not meant to be reliable: a
// principal who is not listening misses them and reads the result
// from the datastore instead.

import (
	"context"
	"fmt"
	"sync"

	"github.com/Velocidex/ordereddict"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/datastore"
	"www.velocidex.com/golang/memtriage/logging"
	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/notifications"
	"www.velocidex.com/golang/memtriage/services"
	"www.velocidex.com/golang/memtriage/utils"
)

const message_time_format = "02/01/2006 15:04"

// Receives a copy of every event. May be an external broker.
type Publisher interface {
	Publish(ctx context.Context, event *services.Event) error
	Close() error
}

type Notifier struct {
	config_obj *config_proto.Config
	logger     *logging.LogContext

	notification_pool *notifications.NotificationPool

	// nil when no broker is configured.
	publisher Publisher
}

func (self *Notifier) Notify(ctx context.Context,
	dump_index, plugin_name string, status models.ResultStatus) error {

	db, err := datastore.GetDB(self.config_obj)
	if err != nil {
		return err
	}

	principals, err := db.ListPrincipalsWithAccess(ctx, dump_index)
	if err != nil {
		return err
	}

	dump_name := dump_index
	dump, err := db.GetDump(ctx, dump_index)
	if err == nil {
		dump_name = dump.Name
	}

	event := &services.Event{
		DumpID:     dump_index,
		PluginName: plugin_name,
		StatusCode: status,
		Timestamp:  utils.GetTime().Now(),
	}
	event.Message = FormatMessage(event, dump_name)

	self.notification_pool.Send(ctx, principals, event)

	if self.publisher != nil {
		err = self.publisher.Publish(ctx, event)
		if err != nil {
			self.logger.Warn("Notifier: unable to publish event for %v on %v: %v",
				plugin_name, dump_index, err)
		}
	}

	return nil
}

func (self *Notifier) Listen(principal string) (<-chan *services.Event, func()) {
	return self.notification_pool.Listen(principal)
}

func (self *Notifier) Close() {
	self.notification_pool.Shutdown()

	if self.publisher != nil {
		err := self.publisher.Close()
		if err != nil {
			self.logger.Error("Notifier: closing publisher: %v", err)
		}
	}
}

// Rows describing the current listeners.
func (self *Notifier) Listeners() []*ordereddict.Dict {
	result := []*ordereddict.Dict{}
	for _, principal := range self.notification_pool.Listeners() {
		result = append(result, ordereddict.NewDict().
			Set("Principal", principal).
			Set("Pending", self.notification_pool.Pending(principal)))
	}
	return result
}

// The message shown to the analyst, e.g.
//
//	19/10/2026 14:05||Plugin <b>windows.info.Info</b> on dump <b>ws</b> ended<br>Status: <b style='color:green'>Success</b>
func FormatMessage(event *services.Event, dump_name string) string {
	return fmt.Sprintf(
		"%s||Plugin <b>%s</b> on dump <b>%s</b> ended<br>Status: <b style='color:%s'>%s</b>",
		event.Timestamp.Format(message_time_format),
		event.PluginName, dump_name,
		event.StatusCode.Color(), event.StatusCode.String())
}

func NewNotifier(config_obj *config_proto.Config, publisher Publisher) *Notifier {
	return &Notifier{
		config_obj:        config_obj,
		logger:            logging.GetLogger(config_obj, &logging.FrontendComponent),
		notification_pool: notifications.NewNotificationPool(config_obj),
		publisher:         publisher,
	}
}

func StartNotificationService(
	ctx context.Context,
	wg *sync.WaitGroup,
	config_obj *config_proto.Config) error {

	var publisher Publisher
	if config_obj.PubSub != nil && config_obj.PubSub.Project != "" {
		pubsub_publisher, err := NewPubSubPublisher(ctx, config_obj.PubSub)
		if err != nil {
			return err
		}
		publisher = pubsub_publisher
	}

	notifier := NewNotifier(config_obj, publisher)
	notifier.logger.Info("<green>Starting</> the notification service.")
	if publisher != nil {
		notifier.logger.Info("Notifier: publishing events to topic %v in %v",
			config_obj.PubSub.Topic, config_obj.PubSub.Project)
	}

	services.RegisterNotifier(notifier)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer notifier.logger.Info("<red>Exiting</> notification service!")

		<-ctx.Done()
		notifier.Close()
	}()

	return nil
}
