package dispatcher

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/guido-cesarano/claimworker/pkg/logger"
	"github.com/guido-cesarano/claimworker/pkg/worker"
)

// Subscription failures. NewRegistry logs them and skips the handler.
var (
	// ErrNilHandler rejects a nil handler, including a typed nil pointer.
	ErrNilHandler = errors.New("handler is nil")
	// ErrBlankTopic rejects a handler whose topic is empty or whitespace.
	ErrBlankTopic = errors.New("handler topic is blank")
	// ErrDuplicateTopic rejects a second handler for a subscribed topic.
	ErrDuplicateTopic = errors.New("topic already has a handler")
	// ErrTopicPanicked wraps a panic raised by a handler's Topic method.
	ErrTopicPanicked = errors.New("handler topic panicked")
)

// Registration binds a topic to its handler. It never changes after startup.
type Registration struct {
	Topic   string
	Handler worker.Handler
}

// Registry holds one handler per topic.
type Registry struct {
	regs map[string]Registration
}

// NewRegistry subscribes every handler. A handler that cannot be subscribed
// is logged and skipped so the others still register; a summary line
// reports successful/total.
func NewRegistry(handlers ...worker.Handler) *Registry {
	r := &Registry{regs: make(map[string]Registration, len(handlers))}

	ok := 0
	for i, h := range handlers {
		topic, err := r.subscribe(h)
		if err != nil {
			logger.Log.Error().Err(err).Int("index", i).Str("handler", fmt.Sprintf("%T", h)).Msg("Failed to subscribe handler")
			continue
		}
		ok++
		retries, timeout := worker.RetryPolicy(h)
		logger.Log.Info().
			Str("topic", topic).
			Str("handler", fmt.Sprintf("%T", h)).
			Int("retry_count", retries).
			Dur("retry_timeout", timeout).
			Msg("Subscribed handler")
	}

	logger.Log.Info().Msgf("Handler subscriptions: %d/%d successful", ok, len(handlers))
	return r
}

func (r *Registry) subscribe(h worker.Handler) (string, error) {
	if h == nil {
		return "", ErrNilHandler
	}
	if v := reflect.ValueOf(h); v.Kind() == reflect.Pointer && v.IsNil() {
		return "", fmt.Errorf("%w: %T", ErrNilHandler, h)
	}
	topic, err := topicOf(h)
	if err != nil {
		return "", err
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", ErrBlankTopic
	}
	if _, exists := r.regs[topic]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateTopic, topic)
	}
	r.regs[topic] = Registration{Topic: topic, Handler: h}
	return topic, nil
}

// topicOf calls h.Topic, turning a panic into an error.
func topicOf(h worker.Handler) (topic string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrTopicPanicked, p)
		}
	}()
	return h.Topic(), nil
}

// Lookup returns the handler registered for topic.
func (r *Registry) Lookup(topic string) (worker.Handler, bool) {
	reg, ok := r.regs[topic]
	return reg.Handler, ok
}

// Topics returns the subscribed topics sorted by name.
func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.regs))
	for t := range r.regs {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Len returns the number of subscribed topics.
func (r *Registry) Len() int {
	return len(r.regs)
}
