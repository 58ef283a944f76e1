package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/memlogd/memlog/internal/policy"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// archivalEventTypes are the events that shrink the active-card population,
// used by the store-boundedness gate's net-growth computation.
var archivalEventTypes = []types.EventType{
	types.EventCardArchived,
	types.EventCardDeprecated,
	types.EventCardSuperseded,
}

// GateThresholds overrides the policy package's default gate thresholds.
// A zero field falls back to its policy constant, so callers only need to
// set the thresholds they actually want to move.
type GateThresholds struct {
	MinEpisodesWithOutcomes int
	MinPrecisionProxy       float64
	MaxCorrectionRate       float64
	MinOutcomesPerHalf      int
	MaxSuccessRateDrift     float64
	MinEventsLast7Days      int
}

func (t *GateThresholds) minEpisodesWithOutcomes() int {
	if t != nil && t.MinEpisodesWithOutcomes != 0 {
		return t.MinEpisodesWithOutcomes
	}
	return policy.GateMinEpisodesWithOutcomes
}

func (t *GateThresholds) minPrecisionProxy() float64 {
	if t != nil && t.MinPrecisionProxy != 0 {
		return t.MinPrecisionProxy
	}
	return policy.GateMinPrecisionProxy
}

func (t *GateThresholds) maxCorrectionRate() float64 {
	if t != nil && t.MaxCorrectionRate != 0 {
		return t.MaxCorrectionRate
	}
	return policy.GateMaxCorrectionRate
}

func (t *GateThresholds) minOutcomesPerHalf() int {
	if t != nil && t.MinOutcomesPerHalf != 0 {
		return t.MinOutcomesPerHalf
	}
	return policy.GateMinOutcomesPerHalf
}

func (t *GateThresholds) maxSuccessRateDrift() float64 {
	if t != nil && t.MaxSuccessRateDrift != 0 {
		return t.MaxSuccessRateDrift
	}
	return policy.GateMaxSuccessRateDrift
}

func (t *GateThresholds) minEventsLast7Days() int {
	if t != nil && t.MinEventsLast7Days != 0 {
		return t.MinEventsLast7Days
	}
	return policy.GateMinEventsLast7Days
}

// GateReport is the result of one `gates` evaluation (spec.md §8).
type GateReport struct {
	WindowDays int `json:"window_days"`

	EpisodesWithTerminalOutcomes int     `json:"episodes_with_terminal_outcomes"`
	PrecisionProxy               float64 `json:"precision_proxy"`
	CorrectionRate               float64 `json:"correction_rate"`
	RetrievalStabilityPass       bool    `json:"retrieval_stability_pass"`

	ActiveCards          int  `json:"active_cards"`
	NetGrowthLast7Days   int  `json:"net_growth_last_7_days"`
	MaxAllowedGrowth     int  `json:"max_allowed_growth"`
	StoreBoundednessPass bool `json:"store_boundedness_pass"`

	PriorHalfOutcomes  int     `json:"prior_half_outcomes"`
	RecentHalfOutcomes int     `json:"recent_half_outcomes"`
	SuccessRatePrior   float64 `json:"success_rate_prior"`
	SuccessRateRecent  float64 `json:"success_rate_recent"`
	UtilityPlateauPass bool    `json:"utility_plateau_pass"`

	EventsLast7Days int  `json:"events_last_7_days"`
	EventVolumePass bool `json:"event_volume_pass"`

	ReadyForCausalInstrumentation bool `json:"ready_for_causal_instrumentation"`
}

// Gates evaluates the four rollout gates over the trailing windowDays
// (spec.md §8). now anchors the window so the evaluation is reproducible
// given identical store contents and the same now.
func Gates(ctx context.Context, store *sqlite.Store, windowDays int, now time.Time, thresholds *GateThresholds) (*GateReport, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	db := store.DB()
	report := &GateReport{WindowDays: windowDays}

	windowStart := now.AddDate(0, 0, -windowDays)
	outcomes, err := sqlite.ListAllOutcomes(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("ops: gates failed to list outcomes: %w", err)
	}
	var windowed []*types.Outcome
	for _, o := range outcomes {
		if !o.CreatedAt.Before(windowStart) {
			windowed = append(windowed, o)
		}
	}

	episodesSeen := map[string]bool{}
	var successes, failures, corrections, terminal int
	for _, o := range windowed {
		t := o.OutcomeType
		if t.IsSuccess() || t.IsFailure() {
			terminal++
			episodesSeen[o.EpisodeID] = true
			if t.IsSuccess() {
				successes++
			} else {
				failures++
			}
			if t == types.OutcomeUserCorrected {
				corrections++
			}
		}
	}
	report.EpisodesWithTerminalOutcomes = len(episodesSeen)
	if terminal > 0 {
		report.PrecisionProxy = float64(successes) / float64(terminal)
		report.CorrectionRate = float64(corrections) / float64(terminal)
	}
	report.RetrievalStabilityPass = report.EpisodesWithTerminalOutcomes >= thresholds.minEpisodesWithOutcomes() &&
		report.PrecisionProxy >= thresholds.minPrecisionProxy() &&
		report.CorrectionRate <= thresholds.maxCorrectionRate()

	activeCards, err := sqlite.ListCardsByStatus(ctx, db, []types.CardStatus{types.StatusActive})
	if err != nil {
		return nil, fmt.Errorf("ops: gates failed to list active cards: %w", err)
	}
	report.ActiveCards = len(activeCards)
	report.MaxAllowedGrowth = policy.StoreBoundednessGrowth(report.ActiveCards)

	sevenDaysAgo := now.AddDate(0, 0, -7)
	admitted, err := sqlite.CountEventsByTypesSince(ctx, db, []types.EventType{types.EventCardAdmitted}, sevenDaysAgo)
	if err != nil {
		return nil, fmt.Errorf("ops: gates failed to count admitted events: %w", err)
	}
	shrunk, err := sqlite.CountEventsByTypesSince(ctx, db, archivalEventTypes, sevenDaysAgo)
	if err != nil {
		return nil, fmt.Errorf("ops: gates failed to count archival events: %w", err)
	}
	report.NetGrowthLast7Days = admitted - shrunk
	report.StoreBoundednessPass = report.NetGrowthLast7Days <= report.MaxAllowedGrowth

	midpoint := windowStart.Add(now.Sub(windowStart) / 2)
	var priorSuccess, priorTerminal, recentSuccess, recentTerminal int
	for _, o := range windowed {
		t := o.OutcomeType
		if !t.IsSuccess() && !t.IsFailure() {
			continue
		}
		if o.CreatedAt.Before(midpoint) {
			priorTerminal++
			if t.IsSuccess() {
				priorSuccess++
			}
		} else {
			recentTerminal++
			if t.IsSuccess() {
				recentSuccess++
			}
		}
	}
	report.PriorHalfOutcomes = priorTerminal
	report.RecentHalfOutcomes = recentTerminal
	if priorTerminal > 0 {
		report.SuccessRatePrior = float64(priorSuccess) / float64(priorTerminal)
	}
	if recentTerminal > 0 {
		report.SuccessRateRecent = float64(recentSuccess) / float64(recentTerminal)
	}
	drift := report.SuccessRateRecent - report.SuccessRatePrior
	if drift < 0 {
		drift = -drift
	}
	report.UtilityPlateauPass = priorTerminal >= thresholds.minOutcomesPerHalf() &&
		recentTerminal >= thresholds.minOutcomesPerHalf() &&
		drift <= thresholds.maxSuccessRateDrift()

	eventsLast7, err := sqlite.CountEventsSince(ctx, db, sevenDaysAgo)
	if err != nil {
		return nil, fmt.Errorf("ops: gates failed to count recent events: %w", err)
	}
	report.EventsLast7Days = eventsLast7
	report.EventVolumePass = eventsLast7 >= thresholds.minEventsLast7Days()

	report.ReadyForCausalInstrumentation = report.RetrievalStabilityPass &&
		report.StoreBoundednessPass && report.UtilityPlateauPass && report.EventVolumePass

	return report, nil
}
