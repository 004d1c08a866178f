package domain

import "errors"

// ErrNotFound is returned by repo and service functions when the requested
// resource does not exist.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. missing required field, scheduled time in the past).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrIllegalTransition is returned when a booking state transition is not
// allowed from the booking's current state. Never retried automatically.
// Handlers should map this to HTTP 409.
var ErrIllegalTransition = errors.New("illegal state transition")

// ErrNotWalker is returned when an operation reserved for the bound walker is
// attempted by anyone else. Handlers should map this to HTTP 403.
var ErrNotWalker = errors.New("actor is not the booking's walker")

// ErrNotCounterparty is returned when the party that created a change request
// tries to respond to it. Handlers should map this to HTTP 403.
var ErrNotCounterparty = errors.New("actor is not the counterparty")

// ErrNoAccess is returned when the actor is neither party to the booking.
// Handlers should map this to HTTP 403.
var ErrNoAccess = errors.New("actor has no access to this booking")

// ErrNotOpen is returned when a walker applies to a booking that is not an
// eligible open request. Handlers should map this to HTTP 409.
var ErrNotOpen = errors.New("booking is not open for applications")

// ErrDuplicateApplication is returned when a walker already has a pending
// application for the same booking. Handlers should map this to HTTP 409;
// callers may treat it as success.
var ErrDuplicateApplication = errors.New("walker already applied to this booking")

// ErrAlreadyResolved is returned when responding to an application that is no
// longer pending. Handlers should map this to HTTP 409.
var ErrAlreadyResolved = errors.New("application already resolved")

// ErrConflictingRequest is returned when a booking already has a pending
// change request. Handlers should map this to HTTP 409.
var ErrConflictingRequest = errors.New("a pending change request already exists")

// ErrWalkerBusy is returned when a walker tries to start a walk while another
// of their walks is in progress. Surfaced, never retried automatically.
// Handlers should map this to HTTP 409.
var ErrWalkerBusy = errors.New("walker already has an active walk")

// ErrSessionClosed is returned when a point arrives for a session that is no
// longer open. Late points are dropped and logged; clients need not treat this
// as urgent. Handlers should map this to HTTP 410 Gone.
var ErrSessionClosed = errors.New("tracking session is closed")

// ErrStalePoint is returned when a point's timestamp is older than the last
// accepted point beyond the clock-jitter tolerance.
// Handlers should map this to HTTP 422.
var ErrStalePoint = errors.New("track point is older than the reorder window")

// ErrSlotTaken is returned when a proof-of-service photo slot is written a
// second time. Handlers should map this to HTTP 409.
var ErrSlotTaken = errors.New("photo slot already set")

// ErrNotifyFailed is returned when the downstream notification dispatch failed
// after retries. The local state change has already been applied; the caller
// must retry the notification, not the whole operation.
// Handlers should map this to HTTP 502.
var ErrNotifyFailed = errors.New("notification dispatch failed")
