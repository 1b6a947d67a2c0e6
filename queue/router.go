package queue

import (
	"context"
	"fmt"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/message"
	"github.com/evocrestco/api-exchange-core-sub000/processor"
)

// RoutingKeyDestination is the routing hint inspected on messages and
// results to decide the target queue.
const RoutingKeyDestination = "destination"

// OutputRouter fans a handler result's output messages out to their target
// queues. The destination is resolved per message: the message's own routing
// info wins, then the result's, then the router default.
type OutputRouter struct {
	publisher    Publisher
	defaultQueue string
	logger       *common.ContextLogger
}

// NewOutputRouter builds a router. defaultQueue may be empty, in which case
// a message without an explicit destination is an error.
func NewOutputRouter(publisher Publisher, defaultQueue string, logger *common.ContextLogger) *OutputRouter {
	if logger == nil {
		logger = common.FrameworkLogger("queue")
	}
	return &OutputRouter{publisher: publisher, defaultQueue: defaultQueue, logger: logger}
}

// RouteResult publishes every output message of the result. It stops at the
// first publish failure so a retry re-sends the remainder; consumers must
// tolerate redelivery of the earlier messages.
func (r *OutputRouter) RouteResult(ctx context.Context, result *processor.ProcessingResult) error {
	if result == nil {
		return nil
	}
	for _, msg := range result.OutputMessages {
		dest := r.destination(msg, result)
		if dest == "" {
			return fmt.Errorf("no destination for message %s", msg.MessageID)
		}
		if err := r.publisher.Publish(ctx, dest, msg); err != nil {
			return fmt.Errorf("failed to route message %s to %s: %w", msg.MessageID, dest, err)
		}
	}
	return nil
}

func (r *OutputRouter) destination(msg *message.Message, result *processor.ProcessingResult) string {
	if d, ok := msg.RoutingInfo[RoutingKeyDestination].(string); ok && d != "" {
		return d
	}
	if d, ok := result.RoutingInfo[RoutingKeyDestination].(string); ok && d != "" {
		return d
	}
	return r.defaultQueue
}
