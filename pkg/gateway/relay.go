package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"chatrelay/pkg/agent"
	"chatrelay/pkg/bridge"
	"chatrelay/pkg/bus"
	"chatrelay/pkg/channel"
	"chatrelay/pkg/config"
	"chatrelay/pkg/intake"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/session"
	"chatrelay/pkg/structuring"
)

// Relay owns the bus, the intake agent and everything the agent depends on.
type Relay struct {
	cfg      *config.Config
	log      *slog.Logger
	bus      *bus.MessageBus
	bridge   *bridge.Client
	sessions session.Store
	agent    *agent.Agent
	intake   *intake.Intake
	worker   *structuring.Worker

	closeOnce sync.Once
}

type relayOptions struct {
	bridgeOpts []bridge.Option
	structurer structuring.Structurer
}

// RelayOption customises NewRelay.
type RelayOption func(*relayOptions)

// WithBridgeOptions forwards opts to the bridge client.
func WithBridgeOptions(opts ...bridge.Option) RelayOption {
	return func(o *relayOptions) {
		o.bridgeOpts = append(o.bridgeOpts, opts...)
	}
}

// WithStructurer replaces the structurer built from config.
func WithStructurer(structurer structuring.Structurer) RelayOption {
	return func(o *relayOptions) {
		o.structurer = structurer
	}
}

// NewRelay wires a relay from cfg. The session store and structuring worker
// are only created for structured intake.
func NewRelay(cfg *config.Config, log *slog.Logger, opts ...RelayOption) (*Relay, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	var options relayOptions
	for _, opt := range opts {
		opt(&options)
	}

	bridgeOpts := append([]bridge.Option{bridge.WithLogger(log)}, options.bridgeOpts...)
	client, err := bridge.New(cfg.Bridge, bridgeOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialize bridge: %w", err)
	}

	messageBus := bus.NewMessageBus()
	relay := &Relay{
		cfg:    cfg,
		log:    logger.Component(log, "gateway.relay"),
		bus:    messageBus,
		bridge: client,
	}

	if cfg.Agent.IntakeMode == config.IntakeStructured {
		sessions, err := session.Open(cfg.Sessions)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		relay.sessions = sessions

		structurer := options.structurer
		if structurer == nil {
			structurer, err = structuring.New(cfg.Structuring)
			if err != nil {
				relay.close()
				return nil, fmt.Errorf("initialize structurer: %w", err)
			}
		}

		relay.worker, err = structuring.NewWorker(cfg.Structuring.Address, structurer, messageBus, log)
		if err != nil {
			relay.close()
			return nil, err
		}
	}

	relay.intake, err = intake.New(client, intake.Options{
		Mode:               cfg.Agent.IntakeMode,
		ResponseField:      cfg.Bridge.ResponseField,
		StructuringAddress: cfg.Structuring.Address,
		Sessions:           relay.sessions,
	})
	if err != nil {
		relay.close()
		return nil, fmt.Errorf("initialize intake: %w", err)
	}

	relay.agent, err = agent.New(cfg.Agent.Name, cfg.Agent.Address, messageBus, log)
	if err != nil {
		relay.close()
		return nil, fmt.Errorf("initialize agent: %w", err)
	}
	relay.intake.Register(relay.agent)

	// Routes exist before Run so a message submitted right after Run starts
	// can already reach the structuring worker.
	relay.agent.Listen()
	if relay.worker != nil {
		relay.worker.Listen()
	}

	return relay, nil
}

func (r *Relay) Agent() *agent.Agent         { return r.agent }
func (r *Relay) Bus() *bus.MessageBus        { return r.bus }
func (r *Relay) Bridge() *bridge.Client      { return r.bridge }
func (r *Relay) IntakeMode() string          { return r.intake.Mode() }
func (r *Relay) Sessions() session.Store     { return r.sessions }
func (r *Relay) Worker() *structuring.Worker { return r.worker }

// Attach routes replies addressed to the adapter's channel back to it.
func (r *Relay) Attach(adapter channel.Adapter) {
	r.bus.Route(channel.RoutePrefix(adapter), adapter.Deliver)
}

// Run starts event logging, outbound dispatch, the structuring worker and the
// agent. It blocks until ctx ends, then releases the bus and session store.
func (r *Relay) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() {
		bus.ObserveEvents(ctx, r.bus, r.log)
	})
	wg.Go(func() {
		r.bus.Dispatch(ctx, func(env bus.Envelope, err error) {
			r.log.Warn("Failed to deliver envelope",
				logger.KeySession, env.Session,
				"kind", env.Kind,
				"target", env.Target,
				"error", err,
			)
		})
	})
	if r.worker != nil {
		wg.Go(func() {
			if err := r.worker.Run(ctx); err != nil {
				r.log.Error("Structuring worker failed", "error", err)
			}
		})
	}

	r.log.Info("Relay started",
		"agent", r.agent.Name(),
		"address", r.agent.Address(),
		"intake", r.intake.Mode(),
		"remote", r.bridge.BaseURL(),
	)

	err := r.agent.Run(ctx)
	cancel()
	wg.Wait()
	r.close()

	return err
}

func (r *Relay) close() {
	r.closeOnce.Do(func() {
		r.bus.Close()
		if r.sessions != nil {
			if err := r.sessions.Close(); err != nil {
				r.log.Warn("Failed to close session store", "error", err)
			}
		}
	})
}
