package gocommand

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// Bus owns a go-command registry and the dispatcher subscriptions made
// through it. Close releases every subscription.
type Bus struct {
	registry *command.Registry

	mu      sync.Mutex
	subs    []commanddispatcher.Subscription
	started bool
}

func NewBus(registry *command.Registry) *Bus {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Bus{registry: registry}
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

// MirrorToQueue makes every registered message available to go-job under
// key, so sweeps can be scheduled as queued commands.
func (b *Bus) MirrorToQueue(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return b.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (b *Bus) AddResolver(key string, resolver command.Resolver) error {
	if err := b.ready(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("gocommand: resolver key is required")
	}
	return b.registry.AddResolver(key, resolver)
}

func (b *Bus) HasResolver(key string) bool {
	if b == nil || b.registry == nil {
		return false
	}
	return b.registry.HasResolver(strings.TrimSpace(key))
}

// Start runs the registry resolvers. It is safe to call more than once.
func (b *Bus) Start() error {
	if err := b.ready(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	if err := b.registry.Initialize(); err != nil {
		return err
	}
	b.started = true
	return nil
}

func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

func (b *Bus) ready() error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return nil
}

func (b *Bus) track(sub commanddispatcher.Subscription) {
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// Handle subscribes cmd on the dispatcher and registers it with the bus
// registry. The subscription is dropped again if registration fails.
func Handle[T any](b *Bus, cmd command.Commander[T], opts ...runner.Option) error {
	if err := b.ready(); err != nil {
		return err
	}
	if cmd == nil {
		return fmt.Errorf("gocommand: command is required")
	}
	sub := commanddispatcher.SubscribeCommand(cmd, opts...)
	if err := b.registry.RegisterCommand(cmd); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.track(sub)
	return nil
}

// Serve is Handle for queries.
func Serve[T any, R any](b *Bus, qry command.Querier[T, R], opts ...runner.Option) error {
	if err := b.ready(); err != nil {
		return err
	}
	if qry == nil {
		return fmt.Errorf("gocommand: query is required")
	}
	sub := commanddispatcher.SubscribeQuery(qry, opts...)
	if err := b.registry.RegisterCommand(qry); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return err
	}
	b.track(sub)
	return nil
}

// Send dispatches msg after checking it names its type and passes its own
// Validate.
func Send[T any](ctx context.Context, msg T) error {
	if err := checkMessage(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

func Ask[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := checkMessage(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}

func checkMessage(msg any) error {
	typed, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: %T does not implement Type() string", msg)
	}
	if strings.TrimSpace(typed.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return command.ValidateMessage(msg)
}
