package pool

import "errors"

// One sentinel per failure cause. Every operation fails atomically: a
// returned error means no state was changed by the attempt.
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrPoolConflict         = errors.New("previous pool is still open")
	ErrNotFound             = errors.New("pool not found")
	ErrUnauthorized         = errors.New("caller is not the administrator")
	ErrPoolNotOpen          = errors.New("pool is not open")
	ErrPoolAlreadyFinished  = errors.New("pool is already finished")
	ErrPoolEnded            = errors.New("deposit period has ended")
	ErrPoolNotEnded         = errors.New("deposit period has not ended yet")
	ErrDuplicateParticipant = errors.New("address has already participated")
	ErrPoolFull             = errors.New("pool has reached max participants")
	ErrWrongAmount          = errors.New("amount must equal the required deposit")
	ErrTransferFailed       = errors.New("token transfer failed")
	ErrNoParticipants       = errors.New("pool has no participants")
	ErrNoWinnerSelected     = errors.New("no winner selected")
	ErrIndexOutOfRange      = errors.New("participant index out of range")
)
