package statetrack

import (
	"context"
	"sort"
	"time"

	"github.com/evocrestco/api-exchange-core-sub000/common"
	"github.com/evocrestco/api-exchange-core-sub000/message"
)

// RecordTransitionRequest carries the inputs of one ledger write. Zero
// TransitionType defaults to NORMAL.
type RecordTransitionRequest struct {
	EntityID           string
	FromState          string
	ToState            string
	Actor              string
	TransitionType     TransitionType
	ProcessorData      map[string]interface{}
	QueueSource        string
	QueueDestination   string
	Notes              string
	TransitionDuration *int64
}

// EntityStateHistory is the full ledger of one entity plus derived fields.
type EntityStateHistory struct {
	EntityID            string             `json:"entity_id"`
	Transitions         []*StateTransition `json:"transitions"`
	CurrentState        string             `json:"current_state"`
	TotalTransitions    int                `json:"total_transitions"`
	FirstSeen           time.Time          `json:"first_seen"`
	LastUpdated         time.Time          `json:"last_updated"`
	TotalProcessingTime int64              `json:"total_processing_time"`
}

// StateCount pairs a state label with its occurrence count.
type StateCount struct {
	State string `json:"state"`
	Count int    `json:"count"`
}

// StateStatistics aggregates the ledger over a time range.
type StateStatistics struct {
	TotalTransitions       int                `json:"total_transitions"`
	CountsByToState        map[string]int     `json:"counts_by_to_state"`
	AvgDurationByFromState map[string]float64 `json:"avg_duration_by_from_state"`
	ErrorRate              float64            `json:"error_rate"`
	TopErrorStates         []StateCount       `json:"top_error_states"`
}

// Service exposes the ledger operations. It satisfies the entity package's
// StateTracker contract via RecordNormalTransition.
type Service struct {
	repo   Repository
	logger *common.ContextLogger
}

// NewService creates a ledger service over the given repository.
func NewService(repo Repository, logger *common.ContextLogger) *Service {
	if logger == nil {
		logger = common.FrameworkLogger("state-tracking")
	}
	return &Service{repo: repo, logger: logger}
}

// RecordTransition appends one transition and returns its id.
func (s *Service) RecordTransition(ctx context.Context, req RecordTransitionRequest) (string, error) {
	if req.EntityID == "" {
		return "", common.NewValidationErrorWithCode(common.CodeMissingEntityID, "entity id is required")
	}
	if req.FromState == "" || req.ToState == "" {
		return "", common.NewValidationError("from and to states are required")
	}
	if req.Actor == "" {
		return "", common.NewValidationError("actor is required")
	}
	if req.TransitionType == "" {
		req.TransitionType = TransitionNormal
	}

	id, err := s.repo.Record(ctx, &StateTransition{
		EntityID:           req.EntityID,
		FromState:          req.FromState,
		ToState:            req.ToState,
		Actor:              req.Actor,
		TransitionType:     req.TransitionType,
		ProcessorData:      req.ProcessorData,
		QueueSource:        req.QueueSource,
		QueueDestination:   req.QueueDestination,
		Notes:              req.Notes,
		TransitionDuration: req.TransitionDuration,
	})
	if err != nil {
		return "", common.ServiceFromRepository(err)
	}
	return id, nil
}

// RecordNormalTransition appends a NORMAL transition. This is the narrow
// surface the entity write path depends on.
func (s *Service) RecordNormalTransition(ctx context.Context, entityID, fromState, toState, actor string, processorData map[string]interface{}) error {
	_, err := s.RecordTransition(ctx, RecordTransitionRequest{
		EntityID:      entityID,
		FromState:     fromState,
		ToState:       toState,
		Actor:         actor,
		ProcessorData: processorData,
	})
	return err
}

// GetEntityStateHistory returns the ordered history plus derived current
// state, bounds, and the sum of recorded transition durations.
func (s *Service) GetEntityStateHistory(ctx context.Context, entityID string) (*EntityStateHistory, error) {
	if entityID == "" {
		return nil, common.NewValidationErrorWithCode(common.CodeMissingEntityID, "entity id is required")
	}

	transitions, err := s.repo.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, common.ServiceFromRepository(err)
	}

	history := &EntityStateHistory{
		EntityID:         entityID,
		Transitions:      transitions,
		TotalTransitions: len(transitions),
	}
	if len(transitions) == 0 {
		return history, nil
	}

	first, last := transitions[0], transitions[len(transitions)-1]
	history.CurrentState = last.ToState
	history.FirstSeen = first.CreatedAt
	history.LastUpdated = last.CreatedAt
	for _, t := range transitions {
		if t.TransitionDuration != nil {
			history.TotalProcessingTime += *t.TransitionDuration
		}
	}
	return history, nil
}

// GetCurrentState returns the entity's latest to_state, or "" when the
// entity has no history.
func (s *Service) GetCurrentState(ctx context.Context, entityID string) (string, error) {
	last, err := s.repo.GetLatest(ctx, entityID)
	if err != nil {
		if common.IsNotFound(err) {
			return "", nil
		}
		return "", common.ServiceFromRepository(err)
	}
	return last.ToState, nil
}

// GetEntitiesInState returns the latest transition of every entity whose
// most recent transition landed in state.
func (s *Service) GetEntitiesInState(ctx context.Context, state string, limit, offset int) ([]*StateTransition, error) {
	if state == "" {
		return nil, common.NewValidationError("state is required")
	}
	out, err := s.repo.ListLatestInState(ctx, state, limit, offset)
	if err != nil {
		return nil, common.ServiceFromRepository(err)
	}
	return out, nil
}

// GetStuckEntities returns entities sitting in state longer than the
// threshold, longest-waiting first.
func (s *Service) GetStuckEntities(ctx context.Context, state string, thresholdMinutes, limit int) ([]*StateTransition, error) {
	if thresholdMinutes <= 0 {
		return nil, common.NewValidationError("threshold must be positive")
	}

	latest, err := s.GetEntitiesInState(ctx, state, 0, 0)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-time.Duration(thresholdMinutes) * time.Minute)
	var stuck []*StateTransition
	for _, t := range latest {
		if t.CreatedAt.Before(cutoff) {
			stuck = append(stuck, t)
			if limit > 0 && len(stuck) == limit {
				break
			}
		}
	}
	return stuck, nil
}

// GetStateStatistics aggregates the ledger over the optional time range:
// totals, counts by destination state, average duration by origin state,
// the error rate, and the five most common error destinations.
func (s *Service) GetStateStatistics(ctx context.Context, start, end *time.Time) (*StateStatistics, error) {
	transitions, err := s.repo.ListByTimeRange(ctx, start, end)
	if err != nil {
		return nil, common.ServiceFromRepository(err)
	}

	stats := &StateStatistics{
		TotalTransitions:       len(transitions),
		CountsByToState:        make(map[string]int),
		AvgDurationByFromState: make(map[string]float64),
	}
	if len(transitions) == 0 {
		return stats, nil
	}

	durationSums := make(map[string]int64)
	durationCounts := make(map[string]int)
	errorCount := 0
	errorToStates := make(map[string]int)

	for _, t := range transitions {
		stats.CountsByToState[t.ToState]++
		if t.TransitionDuration != nil {
			durationSums[t.FromState] += *t.TransitionDuration
			durationCounts[t.FromState]++
		}
		if t.TransitionType == TransitionError {
			errorCount++
			errorToStates[t.ToState]++
		}
	}

	for state, sum := range durationSums {
		stats.AvgDurationByFromState[state] = float64(sum) / float64(durationCounts[state])
	}
	stats.ErrorRate = float64(errorCount) / float64(len(transitions))
	stats.TopErrorStates = topStates(errorToStates, 5)

	return stats, nil
}

// CalculateAvgProcessingTime averages transition_duration over transitions
// from startState to endState. The bool reports whether any matching
// transition carried a duration.
func (s *Service) CalculateAvgProcessingTime(ctx context.Context, startState, endState string) (float64, bool, error) {
	transitions, err := s.repo.ListByTransition(ctx, startState, endState)
	if err != nil {
		return 0, false, common.ServiceFromRepository(err)
	}

	var sum int64
	count := 0
	for _, t := range transitions {
		if t.TransitionDuration != nil {
			sum += *t.TransitionDuration
			count++
		}
	}
	if count == 0 {
		return 0, false, nil
	}
	return float64(sum) / float64(count), true, nil
}

// UpdateMessageWithState returns a copy of msg with the state recorded in
// its metadata: previous_state, current_state, and state_changed_at. The
// input message is not modified.
func UpdateMessageWithState(msg *message.Message, state string) *message.Message {
	out := msg.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]interface{})
	}
	if prev, ok := out.Metadata["current_state"]; ok {
		out.Metadata["previous_state"] = prev
	}
	out.Metadata["current_state"] = state
	out.Metadata["state_changed_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	return out
}

func topStates(counts map[string]int, n int) []StateCount {
	if len(counts) == 0 {
		return nil
	}
	out := make([]StateCount, 0, len(counts))
	for state, count := range counts {
		out = append(out, StateCount{State: state, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].State < out[j].State
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
