package core

import "context"

// SelectionStrategy picks one MCP service among capability-qualified
// candidates.
type SelectionStrategy string

const (
	// SelectByPriority picks the connected candidate with the highest
	// declared priority.
	SelectByPriority SelectionStrategy = "priority"
	// SelectRoundRobin rotates across connected candidates.
	SelectRoundRobin SelectionStrategy = "round_robin"
	// SelectLeastErrors picks the candidate with the fewest accumulated
	// errors.
	SelectLeastErrors SelectionStrategy = "least_errors"
	// SelectBestMatch picks the candidate with the best capability-overlap
	// ratio.
	SelectBestMatch SelectionStrategy = "best_match"
)

// BalancingStrategy picks one A2A peer within the highest-priority tier of
// qualified candidates.
type BalancingStrategy string

const (
	// BalanceRoundRobin rotates across peers in the tier.
	BalanceRoundRobin BalancingStrategy = "round_robin"
	// BalanceWeightedRandom picks randomly, biased by configured weights.
	BalanceWeightedRandom BalancingStrategy = "weighted_random"
	// BalanceLeastLoad picks the peer with the fewest in-flight requests.
	BalanceLeastLoad BalancingStrategy = "least_load"
)

// ServiceRegistry is the decision-facing view of the MCP service pool. The
// concrete implementation lives in the mcp package; the interface exists so
// the decision engine, router and scheduler can be exercised against fakes.
type ServiceRegistry interface {
	// Candidates returns a snapshot of all connected services.
	Candidates() []TargetCandidate

	// SelectService picks a connected service whose capabilities cover the
	// required set, using the given strategy. The boolean is false when no
	// candidate qualifies; callers must treat that as "no route".
	SelectService(required []string, strategy SelectionStrategy) (string, bool)

	// FindToolService returns the name of a connected service exposing the
	// given tool.
	FindToolService(tool string) (string, bool)

	// CallTool invokes a named tool on a specific service.
	CallTool(ctx context.Context, service, tool string, args map[string]any) (any, error)

	// ExecuteTask auto-selects a tool within the service matching the
	// request's type heuristically, then calls it.
	ExecuteTask(ctx context.Context, service string, req TaskRequest) (any, error)

	// ConnectedCount returns the number of services currently connected.
	ConnectedCount() int

	// CurrentLoad returns a coarse proxy of in-flight calls across the pool.
	CurrentLoad() int
}

// PeerRegistry is the decision-facing view of the A2A peer pool, symmetric to
// ServiceRegistry with load balancing as a first-class concern.
type PeerRegistry interface {
	// Candidates returns a snapshot of all connected peers.
	Candidates() []TargetCandidate

	// SelectAgent picks a connected peer whose capabilities cover the
	// required set and whose specialties intersect the requested set,
	// restricted to the highest priority tier and balanced within it.
	SelectAgent(required, specialties []string) (string, bool)

	// ExecuteTask sends a task request to a specific peer.
	ExecuteTask(ctx context.Context, peer string, req TaskRequest) (any, error)

	// ConnectedCount returns the number of peers currently connected.
	ConnectedCount() int

	// CurrentLoad returns the sum of in-flight requests across peers.
	CurrentLoad() int
}
