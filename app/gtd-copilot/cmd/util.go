package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/cchalm/gtd-copilot/internal/ai"
	"github.com/cchalm/gtd-copilot/internal/api"
	"github.com/cchalm/gtd-copilot/internal/cache"
	"github.com/cchalm/gtd-copilot/internal/chat"
	"github.com/cchalm/gtd-copilot/internal/items"
	"github.com/cchalm/gtd-copilot/internal/mutation"
	"github.com/cchalm/gtd-copilot/internal/suggestion"
	"github.com/cchalm/gtd-copilot/internal/telemetry"
)

func setupContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	// Setup graceful shutdown
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		log.Println("Interrupt signal detected, shutting down gracefully...")
		cancel()
		<-interrupt
		log.Fatal("Forcing shutdown")
	}()

	return ctx
}

func createTelemetryProvider(ctx context.Context) (*telemetry.Provider, error) {
	telemetryConfig := telemetry.TelemetryConfig{
		Enabled:  config.TelemetryEnabled,
		Endpoint: config.OTLPEndpoint,
	}
	return telemetry.NewProvider(ctx, telemetryConfig)
}

// session holds the clients one command invocation works with
type session struct {
	store  cache.Store
	engine *mutation.Engine
	// backend is nil when no backend is configured
	backend *api.Client
	close   func()
}

func openSession(ctx context.Context) (*session, error) {
	s := &session{close: func() {}}

	if config.RedisURL != "" {
		redisStore, err := cache.NewRedisStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open item cache: %w", err)
		}
		s.store = redisStore
		s.close = func() {
			if err := redisStore.Close(); err != nil {
				log.Printf("Failed to close item cache: %v", err)
			}
		}
	} else {
		s.store = cache.NewMemoryStore()
	}

	var remote items.Remote
	if config.Offline || config.APIURL == "" {
		log.Printf("No backend configured, keeping items in memory")
		remote = items.NewMemoryRemote()
	} else {
		backend, err := api.NewClient(ctx, config.APIURL, config.APIToken)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to create backend client: %w", err)
		}
		s.backend = backend
		remote = backend
	}

	s.engine = mutation.NewEngine(s.store, remote)
	if err := s.engine.Refresh(ctx, items.Partitions...); err != nil {
		log.Printf("Failed to load items, showing cached state: %v", err)
	}
	return s, nil
}

// submitter returns where chat messages go: the backend when there is one, otherwise Claude directly
func (s *session) submitter() chat.Submitter {
	if s.backend != nil {
		return s.backend
	}
	return ai.NewAssistant(ai.NewAnthropicClient(config.AnthropicAPIKey), anthropic.Model(config.Model), config.Locale)
}

// executor returns what accepted proposals run on. Proposals execute on the backend when there is one, and locally
// through the mutation engine otherwise. Either way the item cache is refreshed afterwards.
func (s *session) executor() suggestion.Executor {
	var executor suggestion.Executor = mutation.NewExecutor(s.engine)
	if s.backend != nil {
		executor = s.backend
	}
	return suggestion.RefreshingExecutor{
		Executor: executor,
		Refresh:  s.engine.RefreshAll,
	}
}
