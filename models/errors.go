package models

import "fmt"

// ValidationError rejects malformed request parameters. Nothing is partially applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown address or config id.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// DuplicateRelationshipError is returned when a follower already has a
// non-stopped config for a trader.
type DuplicateRelationshipError struct {
	FollowerID    string
	TraderAddress string
}

func (e *DuplicateRelationshipError) Error() string {
	return fmt.Sprintf("copy-trade relationship already exists for follower %s on trader %s", e.FollowerID, e.TraderAddress)
}

// InvalidStateTransitionError reports a lifecycle command that the state
// machine does not permit. No state change occurred.
type InvalidStateTransitionError struct {
	ConfigID string
	From     CopyState
	To       CopyState
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("config %s: illegal transition %s -> %s", e.ConfigID, e.From, e.To)
}

// MalformedEventError reports a bad ingestion event. The event is dropped and
// the account's state is left unchanged.
type MalformedEventError struct {
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event: %s", e.Reason)
}

// UpstreamError wraps a failure from the exchange data source or execution
// sink after retries were exhausted.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
