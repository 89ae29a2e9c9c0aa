package matching

import (
	"context"
	stderrors "errors"

	"matchmaker/backend/internal/domain"
	apperrors "matchmaker/backend/pkg/errors"
)

// OutcomeKind tags what happened to one candidate
type OutcomeKind string

const (
	OutcomeCreated OutcomeKind = "created"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Skip reasons
const (
	SkipAlreadyMatched = "already_matched"
)

// Failure kinds
const (
	FailureLedgerUnavailable = "ledger_unavailable"
	FailureCancelled         = "cancelled"
)

// Outcome is the tagged result of attempting one match. Only Failed carries an error.
type Outcome struct {
	CandidateID   string        `json:"candidate_id"`
	Compatibility float64       `json:"compatibility"`
	Kind          OutcomeKind   `json:"kind"`
	Match         *domain.Match `json:"match,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	FailureKind   string        `json:"failure_kind,omitempty"`
	Err           error         `json:"-"`
}

// GenerateResult is what GenerateMatches returns: one outcome per attempted
// candidate in discovery-rank order, and the matches it created in that order
type GenerateResult struct {
	UserID          string         `json:"user_id"`
	CandidateSource string         `json:"candidate_source"`
	Matches         []domain.Match `json:"matches"`
	Outcomes        []Outcome      `json:"outcomes"`
}

// Created returns the number of created matches
func (r *GenerateResult) Created() int {
	return len(r.Matches)
}

// Count returns how many outcomes have the given kind
func (r *GenerateResult) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}

func created(candidate domain.Candidate, m *domain.Match) Outcome {
	return Outcome{
		CandidateID:   candidate.UserID,
		Compatibility: candidate.Compatibility,
		Kind:          OutcomeCreated,
		Match:         m,
	}
}

func skipped(candidate domain.Candidate, reason string) Outcome {
	return Outcome{
		CandidateID:   candidate.UserID,
		Compatibility: candidate.Compatibility,
		Kind:          OutcomeSkipped,
		Reason:        reason,
	}
}

func failed(candidate domain.Candidate, err error) Outcome {
	return Outcome{
		CandidateID:   candidate.UserID,
		Compatibility: candidate.Compatibility,
		Kind:          OutcomeFailed,
		FailureKind:   failureKind(err),
		Err:           err,
	}
}

func failureKind(err error) string {
	switch {
	case apperrors.IsErrorType(err, apperrors.ErrorTypeContext),
		stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return FailureCancelled
	case apperrors.IsLedgerUnavailable(err):
		return FailureLedgerUnavailable
	}
	if t := apperrors.TypeOf(err); t != "" {
		return string(t)
	}
	return FailureLedgerUnavailable
}
