package structuring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatrelay/pkg/bus"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/protocol"
)

const (
	defaultWorkerQueueSize   = 64
	defaultWorkerConcurrency = 4
)

// ErrQueueFull is returned by delivery when the worker cannot accept more prompts.
var ErrQueueFull = errors.New("structuring queue is full")

// Worker owns the structuring address on the bus and answers every
// StructuredOutputPrompt with a StructuredOutputResponse to the prompt sender.
type Worker struct {
	address     string
	structurer  Structurer
	bus         *bus.MessageBus
	log         *slog.Logger
	queue       chan bus.Envelope
	concurrency int
}

// NewWorker builds a worker listening on address.
func NewWorker(address string, structurer Structurer, messageBus *bus.MessageBus, log *slog.Logger) (*Worker, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("structuring address is required")
	}
	if structurer == nil {
		return nil, errors.New("structurer is required")
	}
	if messageBus == nil {
		return nil, errors.New("message bus is required")
	}

	return &Worker{
		address:     address,
		structurer:  structurer,
		bus:         messageBus,
		log:         logger.Component(log, "structuring.worker").With("address", address),
		queue:       make(chan bus.Envelope, defaultWorkerQueueSize),
		concurrency: defaultWorkerConcurrency,
	}, nil
}

func (w *Worker) Address() string { return w.address }

// Listen routes the worker address to its queue. Prompts delivered before Run
// starts wait in the queue. Calling it more than once is harmless.
func (w *Worker) Listen() {
	w.bus.Route(w.address, w.enqueue)
}

// Run listens on the worker address and processes prompts until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	w.Listen()
	defer w.bus.Unroute(w.address)

	w.log.Info("Structuring worker started", "concurrency", w.concurrency)

	var wg sync.WaitGroup
	for range w.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case env := <-w.queue:
					w.handle(ctx, env)
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	w.log.Info("Structuring worker stopped")
	return nil
}

func (w *Worker) enqueue(ctx context.Context, env bus.Envelope) error {
	select {
	case w.queue <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (w *Worker) handle(ctx context.Context, env bus.Envelope) {
	log := w.log.With(logger.KeySession, env.Session, "sender", env.Sender)

	if env.Kind != protocol.KindStructuredPrompt {
		log.Warn("Dropping envelope with unsupported kind", "kind", env.Kind)
		return
	}

	output := w.structure(ctx, log, env)

	reply, err := protocol.Encode(protocol.KindStructuredResponse, w.address, env.Sender, env.Session, protocol.StructuredOutputResponse{Output: output})
	if err != nil {
		log.Error("Failed to encode structured output", "error", err)
		return
	}
	if ok := w.bus.PublishOutbound(ctx, reply); !ok {
		log.Warn("Structured output not sent: bus closed")
	}
}

func (w *Worker) structure(ctx context.Context, log *slog.Logger, env bus.Envelope) map[string]any {
	prompt, err := protocol.Decode[protocol.StructuredOutputPrompt](env)
	if err != nil {
		log.Error("Invalid structured output prompt", "error", err)
		return Unknown()
	}

	schema := prompt.OutputSchema
	if len(schema) == 0 {
		schema = RequestSchema()
	}

	startedAt := time.Now()
	output, err := w.structurer.Structure(ctx, prompt.Prompt, schema)
	if err != nil {
		log.Error("Structuring failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", fmt.Errorf("structure prompt: %w", err))
		return Unknown()
	}

	log.Debug("Structuring completed", "duration_ms", time.Since(startedAt).Milliseconds(), "prompt_length", len(prompt.Prompt))
	return output
}
