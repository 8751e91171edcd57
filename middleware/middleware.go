// Package middleware composes the per query pipeline of sdnsfwd.
package middleware

import (
	"context"
	"errors"
	"sync"

	"github.com/semihalev/sdnsfwd/config"
	"github.com/semihalev/zlog/v2"
)

// Handler is one step of the query pipeline.
type Handler interface {
	Name() string
	ServeDNS(context.Context, *Chain)
}

// Starter is implemented by handlers that must finish work, like a first
// load, before queries are accepted.
type Starter interface {
	Start(context.Context) error
}

// Runner is implemented by handlers owning background work. Run returns
// when the context is done.
type Runner interface {
	Run(context.Context)
}

type middleware struct {
	mu sync.RWMutex

	handlers []handler
}

type handler struct {
	name string
	new  func(*config.Config) Handler
}

var (
	m             middleware
	setupHandlers []Handler
	alreadySetup  bool
)

// Register a middleware. Handlers run in registration order.
func Register(name string, new func(*config.Config) Handler) {
	zlog.Debug("Register middleware", "name", name)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers = append(m.handlers, handler{name: name, new: new})
}

// Setup creates every registered handler from cfg.
func Setup(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if alreadySetup {
		return errors.New("setup already done")
	}

	for _, handler := range m.handlers {
		setupHandlers = append(setupHandlers, handler.new(cfg))
	}

	alreadySetup = true

	return nil
}

// Handlers return the handlers created by Setup.
func Handlers() []Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return setupHandlers
}

// List return names of registered handlers
func List() (list []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, handler := range m.handlers {
		list = append(list, handler.name)
	}

	return list
}

// Get return a handler by name
func Get(name string) Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, handler := range m.handlers {
		if handler.name == name {
			if len(setupHandlers) <= i {
				return nil
			}
			return setupHandlers[i]
		}
	}

	return nil
}

// Start calls Start on every handler implementing Starter, in order.
func Start(ctx context.Context, handlers []Handler) error {
	for _, h := range handlers {
		if s, ok := h.(Starter); ok {
			if err := s.Start(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

// Runners returns the handlers implementing Runner.
func Runners(handlers []Handler) (runners []Runner) {
	for _, h := range handlers {
		if r, ok := h.(Runner); ok {
			runners = append(runners, r)
		}
	}

	return runners
}
