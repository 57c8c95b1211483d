// Package correlation pushes claim events into the engine as correlated
// messages. Each event kind maps to a fixed message name and payload
// variable; nothing is inferred at runtime.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/guido-cesarano/claimworker/pkg/config"
	"github.com/guido-cesarano/claimworker/pkg/engine"
	"github.com/guido-cesarano/claimworker/pkg/logger"
	"github.com/guido-cesarano/claimworker/pkg/metrics"
	"github.com/guido-cesarano/claimworker/pkg/tasks"
)

// Event kinds.
const (
	DocumentReceived      = "document-received"
	InvoiceReceived       = "invoice-received"
	MedicalReportReceived = "medical-report-received"
	ClaimWithdrawn        = "claim-withdrawn"
)

// CorrelationKey is the variable the engine matches against the business key.
const CorrelationKey = "claimId"

var (
	ErrUnknownEvent     = errors.New("unknown event kind")
	ErrBlankBusinessKey = errors.New("business key must not be blank")
)

// Route is the fixed message name and payload variable of one event kind.
type Route struct {
	MessageName string
	Variable    string
}

// DefaultRoutes is the claim event table.
var DefaultRoutes = map[string]Route{
	DocumentReceived:      {MessageName: "DocumentProcessed", Variable: "documentUrl"},
	InvoiceReceived:       {MessageName: "InvoiceReceived", Variable: "invoiceUrl"},
	MedicalReportReceived: {MessageName: "MedicalReportReceived", Variable: "medicalReportUrl"},
	ClaimWithdrawn:        {MessageName: "ClaimWithdrawn", Variable: "withdrawalReason"},
}

// Sender delivers a message. *engine.Client implements it.
type Sender interface {
	Correlate(ctx context.Context, msg engine.CorrelationMessage) error
}

// Service builds and sends correlation messages.
type Service struct {
	sender Sender
	routes map[string]Route
}

// NewService uses DefaultRoutes unless routes is given.
func NewService(sender Sender, routes map[string]Route) *Service {
	if routes == nil {
		routes = DefaultRoutes
	}
	return &Service{sender: sender, routes: routes}
}

// Events lists the known event kinds, sorted.
func (s *Service) Events() []string {
	out := make([]string, 0, len(s.routes))
	for k := range s.routes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build returns the message for event without sending it.
func (s *Service) Build(businessKey, event string, payload any) (engine.CorrelationMessage, error) {
	route, ok := s.routes[event]
	if !ok {
		return engine.CorrelationMessage{}, &config.ConfigurationError{
			Field:  "event",
			Reason: fmt.Sprintf("%q has no message route", event),
			Err:    ErrUnknownEvent,
		}
	}
	key := strings.TrimSpace(businessKey)
	if key == "" {
		return engine.CorrelationMessage{}, &engine.ApplicationError{
			Kind: engine.KindBadRequest,
			Op:   "correlate",
			Err:  ErrBlankBusinessKey,
		}
	}

	return engine.CorrelationMessage{
		MessageName:      route.MessageName,
		BusinessKey:      key,
		CorrelationKeys:  tasks.Variables{}.Set(CorrelationKey, key),
		ProcessVariables: tasks.Variables{}.Set(route.Variable, payload),
	}, nil
}

// Publish builds the message for event and sends it once. Connection and
// application errors come back unchanged; anything else is wrapped into an
// unexpected *engine.ApplicationError naming the business key and event.
func (s *Service) Publish(ctx context.Context, businessKey, event string, payload any) error {
	msg, err := s.Build(businessKey, event, payload)
	if err != nil {
		name := "unknown"
		if route, ok := s.routes[event]; ok {
			name = route.MessageName
		}
		metrics.Correlations.WithLabelValues(name, "rejected").Inc()
		logger.Log.Warn().Err(err).Str("business_key", businessKey).Str("event", event).Msg("Correlation rejected")
		return err
	}

	err = s.sender.Correlate(ctx, msg)
	metrics.Correlations.WithLabelValues(msg.MessageName, resultLabel(err)).Inc()
	if err == nil {
		return nil
	}

	var (
		connErr *engine.ConnectionError
		appErr  *engine.ApplicationError
	)
	if errors.As(err, &connErr) || errors.As(err, &appErr) {
		return err
	}
	return &engine.ApplicationError{
		Kind: engine.KindUnexpected,
		Op:   "correlate",
		Err:  fmt.Errorf("business key %s, event %s: %w", msg.BusinessKey, event, err),
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case engine.IsConnectionError(err):
		return "connection_error"
	default:
		return "application_error"
	}
}

// NotifyDocumentReceived tells the claim process a document was processed.
func (s *Service) NotifyDocumentReceived(ctx context.Context, claimID, documentURL string) error {
	return s.Publish(ctx, claimID, DocumentReceived, documentURL)
}

// NotifyInvoiceReceived tells the claim process an invoice arrived.
func (s *Service) NotifyInvoiceReceived(ctx context.Context, claimID, invoiceURL string) error {
	return s.Publish(ctx, claimID, InvoiceReceived, invoiceURL)
}

// NotifyMedicalReportReceived tells the claim process a medical report arrived.
func (s *Service) NotifyMedicalReportReceived(ctx context.Context, claimID, reportURL string) error {
	return s.Publish(ctx, claimID, MedicalReportReceived, reportURL)
}

// NotifyClaimWithdrawn tells the claim process the claimant withdrew.
func (s *Service) NotifyClaimWithdrawn(ctx context.Context, claimID, reason string) error {
	return s.Publish(ctx, claimID, ClaimWithdrawn, reason)
}
