// Package failover implements the failover policy engine (C9): a pure,
// I/O-free rule-matched recommendation of an alternative action when a
// plan step fails, given the intent, failure reason, and surrounding
// signals. The caller is responsible for persisting the chosen action to
// the replan marker and/or triggering compensation.
package failover

import sagaerrors "github.com/randalmurphal/sagaengine/pkg/sagaengine/errors"

// Action is one of the alternative actions a policy can recommend.
type Action string

const (
	ActionSuggestAlternativeTime       Action = "SUGGEST_ALTERNATIVE_TIME"
	ActionSuggestAlternativeRestaurant Action = "SUGGEST_ALTERNATIVE_RESTAURANT"
	ActionTriggerDelivery              Action = "TRIGGER_DELIVERY"
	ActionTriggerWaitlist              Action = "TRIGGER_WAITLIST"
	ActionDowngradePartySize           Action = "DOWNGRADE_PARTY_SIZE"
	ActionRetryWithBackoff             Action = "RETRY_WITH_BACKOFF"
	ActionEscalateToHuman              Action = "ESCALATE_TO_HUMAN"
	ActionAbortAndRefund               Action = "ABORT_AND_REFUND"
)

// Input carries every signal a policy condition can match against.
type Input struct {
	IntentType     string
	FailureReason  string // keyword, e.g. "NO_AVAILABILITY", "PAYMENT_FAILED"
	Confidence     float64
	AttemptCount   int
	RestaurantTags []string
	PartySize      int
	TimeOfDay      string // "HH:MM"
	DayOfWeek      string // "MONDAY".."SUNDAY"
	Metadata       map[string]any
}

// ScoredAction is one action a matching policy proposes, with its
// configured priority (higher wins ties) and any materialized
// alternative parameters (e.g. a shifted reservation time).
type ScoredAction struct {
	Action      Action
	Priority    int
	Alternative map[string]any
}

// Policy is one rule: hard gates that must all match, and a
// priority-ordered list of candidate actions it offers when they do.
type Policy struct {
	Name string

	// Hard gates: a zero-value field means "don't care". All non-zero
	// gates must match for the policy to be considered at all.
	IntentTypes    []string
	FailureReasons []string

	// Soft dimensions contribute a bounded bonus on top of the gate match.
	// MinConfidence only adds a bonus; a set RequireTags or MaxAttemptCount
	// also disqualifies the policy when the input does not meet it.
	MinConfidence   float64 // bonus if input.Confidence >= this
	MaxAttemptCount int     // bonus if input.AttemptCount <= this (0 = unset)
	RequireTags     []string

	Actions []ScoredAction
}

const (
	bonusConfidence = 0.2
	bonusAttempts   = 0.1
	bonusTags       = 0.2
)

// DefaultPolicies is the built-in restaurant-reservation policy table.
// It is data, not code: callers may supply their own slice to New.
var DefaultPolicies = []Policy{
	{
		Name:           "no_availability_retime",
		IntentTypes:    []string{"make_reservation"},
		FailureReasons: []string{"NO_AVAILABILITY"},
		MinConfidence:  0.5,
		Actions: []ScoredAction{
			{Action: ActionSuggestAlternativeTime, Priority: 10},
			{Action: ActionSuggestAlternativeRestaurant, Priority: 8},
			{Action: ActionTriggerWaitlist, Priority: 6},
		},
	},
	{
		Name:           "party_too_large",
		IntentTypes:    []string{"make_reservation"},
		FailureReasons: []string{"PARTY_TOO_LARGE"},
		Actions: []ScoredAction{
			{Action: ActionDowngradePartySize, Priority: 9},
			{Action: ActionSuggestAlternativeRestaurant, Priority: 7},
		},
	},
	{
		Name:           "restaurant_closed_delivery",
		IntentTypes:    []string{"make_reservation", "order_food"},
		FailureReasons: []string{"RESTAURANT_CLOSED", "NO_AVAILABILITY"},
		RequireTags:    []string{"delivery"},
		Actions: []ScoredAction{
			{Action: ActionTriggerDelivery, Priority: 11},
		},
	},
	{
		Name:           "payment_failed_abort",
		IntentTypes:    []string{"order_food", "make_reservation"},
		FailureReasons: []string{"PAYMENT_FAILED"},
		Actions: []ScoredAction{
			{Action: ActionAbortAndRefund, Priority: 12},
			{Action: ActionEscalateToHuman, Priority: 5},
		},
	},
	{
		Name:            "transient_retry",
		FailureReasons:  []string{"TIMEOUT", "UPSTREAM_UNAVAILABLE"},
		MaxAttemptCount: 3,
		Actions: []ScoredAction{
			{Action: ActionRetryWithBackoff, Priority: 10},
		},
	},
	{
		Name: "fallback_escalate",
		Actions: []ScoredAction{
			{Action: ActionEscalateToHuman, Priority: 1},
		},
	},
}

// Decision is the engine's verdict: the best action plus every action any
// matching policy proposed, for the caller to offer as alternatives.
type Decision struct {
	Best         ScoredAction
	Alternatives []ScoredAction
	MatchedBy    string
}

// Engine is a pure rule evaluator; it holds no state and performs no I/O.
type Engine struct {
	policies []Policy
}

// New builds an Engine over policies. A nil/empty slice falls back to
// DefaultPolicies.
func New(policies []Policy) *Engine {
	if len(policies) == 0 {
		policies = DefaultPolicies
	}
	return &Engine{policies: policies}
}

// Evaluate scores every policy against in and returns the highest-scoring
// action, tie-broken by the action's own configured priority. Returns an
// error only when no policy matches at all (input entirely unrecognized).
func (e *Engine) Evaluate(in Input) (Decision, error) {
	var best ScoredAction
	var bestScore float64 = -1
	var bestPolicy string
	var alternatives []ScoredAction

	for _, p := range e.policies {
		score, ok := e.score(p, in)
		if !ok {
			continue
		}
		alternatives = append(alternatives, p.Actions...)

		for _, action := range p.Actions {
			total := score
			switch {
			case total > bestScore:
				bestScore = total
				best = materialize(action, in)
				bestPolicy = p.Name
			case total == bestScore && action.Priority > best.Priority:
				best = materialize(action, in)
				bestPolicy = p.Name
			}
		}
	}

	if bestScore < 0 {
		return Decision{}, &sagaerrors.ValidationError{Message: "no failover policy matched"}
	}

	materializedAlts := make([]ScoredAction, len(alternatives))
	for i, a := range alternatives {
		materializedAlts[i] = materialize(a, in)
	}

	return Decision{Best: best, Alternatives: materializedAlts, MatchedBy: bestPolicy}, nil
}

// score returns the policy's composite score and whether its hard gates
// matched at all. A hard-gate mismatch, unmet RequireTags, or an
// AttemptCount above a set MaxAttemptCount disqualifies the policy.
func (e *Engine) score(p Policy, in Input) (float64, bool) {
	if len(p.IntentTypes) > 0 && !contains(p.IntentTypes, in.IntentType) {
		return 0, false
	}
	if len(p.FailureReasons) > 0 && !contains(p.FailureReasons, in.FailureReason) {
		return 0, false
	}
	if len(p.RequireTags) > 0 && !containsAny(in.RestaurantTags, p.RequireTags) {
		return 0, false
	}

	score := 1.0
	if p.MinConfidence > 0 && in.Confidence >= p.MinConfidence {
		score += bonusConfidence
	}
	if p.MaxAttemptCount > 0 {
		if in.AttemptCount <= p.MaxAttemptCount {
			score += bonusAttempts
		} else {
			return 0, false
		}
	}
	if len(p.RequireTags) > 0 {
		score += bonusTags
	}

	return score, true
}

// materialize fills in alternative suggestions for time-shift actions
// (±30/±60 minute offsets), leaving every other action untouched.
func materialize(a ScoredAction, in Input) ScoredAction {
	if a.Action != ActionSuggestAlternativeTime {
		return a
	}
	out := a
	out.Alternative = map[string]any{
		"offsetsMinutes": []int{-60, -30, 30, 60},
		"baseTimeOfDay":  in.TimeOfDay,
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsAny(have, want []string) bool {
	for _, w := range want {
		if contains(have, w) {
			return true
		}
	}
	return false
}
