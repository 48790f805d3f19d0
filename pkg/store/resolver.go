package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
)

// Resolver maps a call descriptor to a merged CallConfig. Three
// resolution paths exist: SDK calls carry an agent handle and token,
// inbound calls are matched by the number the caller dialed, and
// outbound tasks name their agent in the dispatch metadata. Environment
// defaults sit underneath every path.
type Resolver struct {
	store    ConfigStore
	defaults call.Config
	logger   *slog.Logger
}

func NewResolver(store ConfigStore, defaults call.Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, defaults: defaults, logger: logger}
}

// ResolveSDK resolves configuration for a web call opened through the
// SDK.
func (r *Resolver) ResolveSDK(ctx context.Context, handle, token string) (call.Config, error) {
	if handle == "" {
		return call.Config{}, fmt.Errorf("resolve: agent handle is required")
	}
	cfg, err := r.store.ConfigByHandle(ctx, handle, token)
	if err != nil {
		return call.Config{}, fmt.Errorf("resolve agent %q: %w", handle, err)
	}
	out := r.merged(cfg)
	out.CallType = call.TypeWeb
	return out, nil
}

// ResolveInbound resolves configuration for a call arriving on a phone
// number.
func (r *Resolver) ResolveInbound(ctx context.Context, calledNumber string) (call.Config, error) {
	if calledNumber == "" {
		return call.Config{}, fmt.Errorf("resolve: called number is required")
	}
	cfg, err := r.store.ConfigByNumber(ctx, calledNumber)
	if err != nil {
		return call.Config{}, fmt.Errorf("resolve number %q: %w", calledNumber, err)
	}
	out := r.merged(cfg)
	out.CallType = call.TypeInbound
	return out, nil
}

// ResolveOutbound resolves configuration for a dispatched outbound task.
// The metadata names the agent; a missing or unknown agent id falls back
// to the environment defaults so a misconfigured dispatch still dials.
func (r *Resolver) ResolveOutbound(ctx context.Context, metadata map[string]string) (call.Config, error) {
	agentID := metadata["agent_id"]
	if agentID == "" {
		agentID = r.defaults.AgentID
	}

	var cfg call.Config
	if agentID != "" {
		found, err := r.store.ConfigByAgent(ctx, agentID)
		switch {
		case err == nil:
			cfg = found
		case errors.Is(err, ErrNotFound):
			r.logger.Warn("agent not found, using environment defaults", "agent_id", agentID)
		default:
			return call.Config{}, fmt.Errorf("resolve agent %q: %w", agentID, err)
		}
	}

	out := r.merged(cfg)
	out.CallType = call.TypeOutbound
	if number := metadata["phone_number"]; number != "" {
		out.PhoneNumber = number
	}
	if prompt := metadata["system_prompt"]; prompt != "" {
		out.SystemPrompt = prompt
	}
	return out, nil
}

// merged layers the stored config over the environment defaults and
// fills standard timings.
func (r *Resolver) merged(cfg call.Config) call.Config {
	return r.defaults.Merge(cfg).Defaults()
}
