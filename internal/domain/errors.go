package domain

import "errors"

var (
	// ErrDuelNotFound is returned when the duel id does not exist.
	ErrDuelNotFound = errors.New("duel not found")
	// ErrQuestionNotFound indicates the question does not belong to the duel.
	ErrQuestionNotFound = errors.New("question not found in duel")
	// ErrForbidden indicates the acting player is not allowed to perform the operation.
	ErrForbidden = errors.New("player is not a participant")
	// ErrInvalidState indicates the duel is in the wrong lifecycle stage.
	// Under concurrency this is an expected outcome ("someone else already did this").
	ErrInvalidState = errors.New("duel is in the wrong state")
	// ErrInvalidParticipants indicates a player tried to challenge themselves.
	ErrInvalidParticipants = errors.New("challenger and opponent must differ")
	// ErrInsufficientPool indicates the question pool cannot supply enough candidates.
	ErrInsufficientPool = errors.New("question pool too small")
	// ErrDuplicateAnswer indicates this player already answered this question.
	// Callers should treat it as "already recorded", not a hard failure.
	ErrDuplicateAnswer = errors.New("answer already recorded")
	// ErrStorage wraps infrastructure failures; the underlying cause is opaque
	// to callers and no partial state change has been made.
	ErrStorage = errors.New("storage failure")
)
