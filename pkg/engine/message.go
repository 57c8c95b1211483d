package engine

import (
	"errors"
	"strings"

	"github.com/guido-cesarano/claimworker/pkg/tasks"
)

// ErrBlankMessageName rejects a message without a name before it is sent.
var ErrBlankMessageName = errors.New("message name must not be blank")

// CorrelationMessage is the body of POST /message. The engine matches it
// against waiting executions by name, business key and correlation keys.
// Map order is irrelevant on both sides.
type CorrelationMessage struct {
	MessageName      string          `json:"messageName"`
	BusinessKey      string          `json:"businessKey,omitempty"`
	CorrelationKeys  tasks.Variables `json:"correlationKeys,omitempty"`
	ProcessVariables tasks.Variables `json:"processVariables,omitempty"`
}

// Validate checks the message name.
func (m CorrelationMessage) Validate() error {
	if strings.TrimSpace(m.MessageName) == "" {
		return ErrBlankMessageName
	}
	return nil
}
