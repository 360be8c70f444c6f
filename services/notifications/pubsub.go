package notifications

import (
	"context"

	"cloud.google.com/go/pubsub"
	"github.com/go-errors/errors"
	"google.golang.org/api/option"
	config_proto "www.velocidex.com/golang/memtriage/config/proto"
	"www.velocidex.com/golang/memtriage/json"
	"www.velocidex.com/golang/memtriage/services"
)

// Forwards events to a Google Pub/Sub topic so other systems can
// follow the analysis.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func (self *PubSubPublisher) Publish(
	ctx context.Context, event *services.Event) error {
	serialized, err := json.Marshal(event)
	if err != nil {
		return err
	}

	result := self.topic.Publish(ctx, &pubsub.Message{
		Data: serialized,
		Attributes: map[string]string{
			"dump_id":     event.DumpID,
			"plugin_name": event.PluginName,
		},
	})

	_, err = result.Get(ctx)
	if err != nil {
		return errors.Wrap(err, 0)
	}
	return nil
}

func (self *PubSubPublisher) Close() error {
	self.topic.Stop()
	return self.client.Close()
}

func NewPubSubPublisher(ctx context.Context,
	config_obj *config_proto.PubSubConfig,
	opts ...option.ClientOption) (*PubSubPublisher, error) {

	if config_obj.Topic == "" {
		return nil, errors.New("PubSub.topic is required")
	}

	if config_obj.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config_obj.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, config_obj.Project, opts...)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	return &PubSubPublisher{
		client: client,
		topic:  client.Topic(config_obj.Topic),
	}, nil
}
