package rpc

import (
	"context"
	"fmt"

	"bundle.dev/core/assemble"
	"bundle.dev/core/config"
	"bundle.dev/core/event"
	"bundle.dev/core/fetch"
	"bundle.dev/core/resolve"
)

// downloadSession tracks one clientId's in-flight download.start call, so a
// later download.cancel for the same clientId can trip its cancellation
// token, per spec.md §5's "a session holds exactly one cancellation token".
type downloadSession struct {
	cancel context.CancelFunc
	bus    *event.Bus
}

// DownloadStart implements `download.start`: resolve packages, then fetch
// and assemble every artifact in the resulting closure, publishing the
// status/deps-resolved/progress/complete/cancelled events spec.md §5
// mandates onto the returned channel. The channel closes once the session
// reaches a terminal state.
//
// clientID is reused if the caller already holds one from an earlier call;
// a fresh one is minted otherwise. Starting a second download for a
// clientID still holding an active session is rejected: one session, one
// cancellation token.
func (s *Service) DownloadStart(ctx context.Context, packages []resolve.PackageRequest, opts resolve.ResolveOptions, cfg config.Config, clientID string) (<-chan event.Event, string, error) {
	if clientID == "" {
		clientID = newClientID()
	}

	s.mu.Lock()
	if _, busy := s.sessions[clientID]; busy {
		s.mu.Unlock()
		return nil, "", fmt.Errorf("%w: clientId %s already has an active download", resolve.ErrRequestInvalid, clientID)
	}
	sessCtx, cancel := context.WithCancel(ctx)
	bus := event.NewBus()
	sess := &downloadSession{cancel: cancel, bus: bus}
	s.sessions[clientID] = sess
	s.mu.Unlock()

	s.metrics.inFlightDownloads.Inc()

	sub, unsubscribe := bus.Subscribe(256)
	out := make(chan event.Event, 256)

	go func() {
		defer close(out)
		defer unsubscribe()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, clientID)
			s.mu.Unlock()
			s.metrics.inFlightDownloads.Dec()
		}()
		for e := range sub {
			e.ClientID = clientID
			out <- e
			if e.Artifact == "" && (e.Kind == "complete" || e.Kind == "cancelled" || (e.Kind == "status" && e.State == "failed")) {
				return
			}
		}
	}()

	go s.runDownload(sessCtx, packages, opts, cfg, clientID, bus)

	return out, clientID, nil
}

func (s *Service) runDownload(ctx context.Context, packages []resolve.PackageRequest, opts resolve.ResolveOptions, cfg config.Config, clientID string, bus *event.Bus) {
	bus.Publish(event.Event{Kind: "status", State: "resolving"})

	trees, err := s.newResolver(cfg).Resolve(ctx, packages, opts)
	if err != nil {
		bus.Publish(event.Event{Kind: "status", State: "failed", Error: err.Error()})
		return
	}
	var flat []resolve.ResolvedArtifact
	if len(trees) > 0 {
		flat = trees[0].FlatList
	}
	bus.Publish(event.Event{Kind: "deps-resolved", Total: int64(len(flat))})

	if ctx.Err() != nil {
		bus.Publish(event.Event{Kind: "cancelled"})
		return
	}

	asm := assemble.New(cfg.OutputDir)
	if err := asm.EnsureEmpty(false); err != nil {
		bus.Publish(event.Event{Kind: "status", State: "failed", Error: err.Error()})
		return
	}

	pipeline := fetch.NewPipeline(s.transport, s.cache, bus, cfg.OutputDir, cfg.Concurrency)
	if _, err := pipeline.Run(ctx, flat); err != nil {
		if ctx.Err() != nil {
			bus.Publish(event.Event{Kind: "cancelled"})
			return
		}
		bus.Publish(event.Event{Kind: "status", State: "failed", Error: err.Error()})
		return
	}

	if ctx.Err() != nil {
		bus.Publish(event.Event{Kind: "cancelled"})
		return
	}

	outPath, err := asm.Assemble(ctx, flat, cfg)
	if err != nil {
		bus.Publish(event.Event{Kind: "status", State: "failed", Error: err.Error()})
		return
	}

	bus.Publish(event.Event{Kind: "complete", State: outPath, Total: int64(len(flat))})
}

// DownloadCancel implements `download.cancel`: trips clientID's
// cancellation token if it still has an active session.
func (s *Service) DownloadCancel(clientID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[clientID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.cancel()
	return true
}
