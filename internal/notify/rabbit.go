// README: RabbitMQ dispatcher publishing lifecycle events to a topic exchange.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 2 * time.Second

type Rabbit struct {
	ch       *amqp.Channel
	exchange string
}

func NewRabbit(ch *amqp.Channel, exchange string) *Rabbit {
	return &Rabbit{ch: ch, exchange: exchange}
}

func (r *Rabbit) Dispatch(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		log.Printf("notify: marshal %s: %v", e.Kind, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	err = r.ch.PublishWithContext(ctx, r.exchange, e.Kind, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   e.At,
		Body:        body,
	})
	if err != nil {
		// Best-effort: a broker outage must not roll back the transition.
		log.Printf("notify: publish %s: %v", e.Kind, err)
	}
}
