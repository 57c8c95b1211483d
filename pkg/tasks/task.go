// Package tasks defines the core data structures exchanged with the process engine.
// An ExternalTask is a unit of work fetched and locked for one worker; an Outcome
// is the single result the worker reports back for it.
package tasks

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExternalTask is an immutable snapshot of one locked unit of work as returned
// by the engine's fetchAndLock endpoint.
//
// The Topic field routes the task to its handler; Variables holds the
// process-instance scoped inputs the engine was asked to deliver.
type ExternalTask struct {
	// ID is the engine's task identifier.
	ID string `json:"id"`

	// Topic selects the handler (engine field "topicName").
	Topic string `json:"topicName"`

	ActivityID           string `json:"activityId"`
	ActivityInstanceID   string `json:"activityInstanceId,omitempty"`
	WorkerID             string `json:"workerId,omitempty"`
	ProcessInstanceID    string `json:"processInstanceId,omitempty"`
	ProcessDefinitionID  string `json:"processDefinitionId,omitempty"`
	ProcessDefinitionKey string `json:"processDefinitionKey,omitempty"`
	BusinessKey          string `json:"businessKey,omitempty"`
	TenantID             string `json:"tenantId,omitempty"`

	// Retries is nil until the first failure has been reported for the task.
	Retries  *int  `json:"retries,omitempty"`
	Priority int64 `json:"priority,omitempty"`

	// LockExpirationTime is kept in the engine's own format, see LockExpiry.
	LockExpirationTime string `json:"lockExpirationTime,omitempty"`

	Variables Variables `json:"variables,omitempty"`
}

// engine timestamps look like 2015-10-06T16:34:42.000+0200
var lockTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

// LockExpiry parses LockExpirationTime.
func (t ExternalTask) LockExpiry() (time.Time, bool) {
	if t.LockExpirationTime == "" {
		return time.Time{}, false
	}
	for _, layout := range lockTimeLayouts {
		if ts, err := time.Parse(layout, t.LockExpirationTime); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// InstanceKey identifies one fetched instance of the task. A redelivery after
// lock expiry carries the same ID but a new lock, hence a new key.
func (t ExternalTask) InstanceKey() string {
	if t.LockExpirationTime == "" {
		return t.ID
	}
	return t.ID + "@" + t.LockExpirationTime
}

// Variable returns the raw typed value stored under name.
func (t ExternalTask) Variable(name string) (TypedValue, bool) {
	v, ok := t.Variables[name]
	return v, ok
}

// String returns the variable as a string. It reports false when the
// variable is missing or holds anything other than a string.
func (t ExternalTask) String(name string) (string, bool) {
	v, ok := t.Variables[name]
	if !ok {
		return "", false
	}
	s, ok := v.Value.(string)
	return s, ok
}

// Int64 returns an Integer/Long/Short variable.
func (t ExternalTask) Int64(name string) (int64, bool) {
	v, ok := t.Variables[name]
	if !ok {
		return 0, false
	}
	i, ok := v.Value.(int64)
	return i, ok
}

// Float64 returns a Double variable.
func (t ExternalTask) Float64(name string) (float64, bool) {
	v, ok := t.Variables[name]
	if !ok {
		return 0, false
	}
	f, ok := v.Value.(float64)
	return f, ok
}

// Bool returns a Boolean variable.
func (t ExternalTask) Bool(name string) (bool, bool) {
	v, ok := t.Variables[name]
	if !ok {
		return false, false
	}
	b, ok := v.Value.(bool)
	return b, ok
}

// Decimal returns a numeric variable (integer or double) as a decimal.
// Strings are not parsed.
func (t ExternalTask) Decimal(name string) (decimal.Decimal, bool) {
	v, ok := t.Variables[name]
	if !ok {
		return decimal.Zero, false
	}
	switch n := v.Value.(type) {
	case int64:
		return decimal.NewFromInt(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	default:
		return decimal.Zero, false
	}
}
