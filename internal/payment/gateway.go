// Package payment is the boundary to external payment providers.  The
// booking workflow only sees Initiate and the verified outcome of a
// callback; how a provider charges the customer is its own business.
package payment

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	ErrInvalidSignature  = errors.New("invalid callback signature")
	ErrGatewayDeclined   = errors.New("payment declined by gateway")
)

// Outcome is the result a gateway reports for a payment.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed || o == OutcomeTimedOut
}

// Request describes one payment attempt.
type Request struct {
	PaymentID string
	BookingID string
	Method    string
	Amount    int64
	Email     string
}

// Initiation is what the gateway hands back: where to send the customer
// and the provider's reference for the attempt.
type Initiation struct {
	Reference   string
	RedirectURL string
}

// Callback is the provider's asynchronous notification.
type Callback struct {
	PaymentID string  `json:"paymentId"`
	BookingID string  `json:"bookingId"`
	Reference string  `json:"reference"`
	Outcome   Outcome `json:"status"`
	Signature string  `json:"signature"`
}

// Gateway is implemented by each provider adapter.
type Gateway interface {
	Initiate(ctx context.Context, req Request) (Initiation, error)
	VerifyCallback(cb Callback) error
}

// Registry maps payment methods to gateways.  Method names are
// case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Register binds methods to gw, replacing earlier bindings.
func (r *Registry) Register(gw Gateway, methods ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range methods {
		r.gateways[NormalizeMethod(m)] = gw
	}
}

// Lookup returns the gateway for method.
func (r *Registry) Lookup(method string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[NormalizeMethod(method)]
	if !ok {
		return nil, ErrUnsupportedMethod
	}
	return gw, nil
}

// Methods lists registered methods in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.gateways))
	for m := range r.gateways {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// NormalizeMethod lower-cases and trims a method name.
func NormalizeMethod(m string) string { return strings.ToLower(strings.TrimSpace(m)) }
