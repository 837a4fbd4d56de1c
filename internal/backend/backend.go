// Package backend adapts deployed services to the harness's call surface.
//
// A Backend turns "call endpoint name with this input" into whatever the
// service flavor needs: an HTTP request for out-of-process services, direct
// execution for the in-process reference implementation. Adapters share one
// contract:
//
//   - CallAPI reports failure by returning a non-nil error, never by a
//     silently wrong-shaped response. The harness records history from
//     these two outcomes, so a swallowed failure corrupts the run.
//   - CallAPI performs at most one attempt per call. Retrying inside the
//     adapter would fabricate duplicate history events.
//   - Responses are JSON-shaped (maps, slices, float64 numbers, strings,
//     nil) regardless of flavor, so callers observe identical types
//     whether the service is remote or in-process.
package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/apibench/internal/api"
)

// Contract exposes the endpoint list a backend call is resolved against.
// Implemented by task contracts; defined here so adapters do not depend on
// task packages.
type Contract interface {
	APIDescription() []api.Description
}

// Backend is the full capability set of a service flavor.
type Backend interface {
	// APIPrompt renders the endpoint list the way an implementer of this
	// flavor expects to receive it.
	APIPrompt(descs []api.Description) string
	// Description returns flavor-specific deployment and runtime notes.
	Description() string
	// Start brings the service up or waits until it is reachable.
	Start(ctx context.Context) error
	// Deploy installs the service under test. Adapters that attach to an
	// already-running service implement this as a no-op.
	Deploy(ctx context.Context) error
	// CallAPI invokes the named endpoint with input and returns the decoded
	// response. The name must appear in the contract's endpoint list.
	CallAPI(ctx context.Context, contract Contract, name string, input any) (any, error)
	// Stop releases resources held by the adapter.
	Stop() error
}

// endpoint resolves name against the contract's endpoint list.
func endpoint(contract Contract, name string) (api.Description, error) {
	for _, d := range contract.APIDescription() {
		if d.Name() == name {
			return d, nil
		}
	}
	return api.Description{}, fmt.Errorf("endpoint %q is not in the API contract", name)
}

// roundTrip forces v through JSON so in-process adapters return the same
// shapes a wire adapter would: map[string]any, []any, float64, string, nil.
func roundTrip(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}
