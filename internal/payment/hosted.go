package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// HostedGateway sends customers to an external hosted payment page.
// The redirect carries an HMAC-SHA256 signature over the payment so the
// page can trust the amount, and callbacks are signed with the same
// shared secret.
type HostedGateway struct {
	baseURL   string
	returnURL string
	secret    []byte
}

// NewHostedGateway validates baseURL and returns a gateway.
func NewHostedGateway(baseURL, returnURL, secret string) (*HostedGateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("payment gateway url must be absolute")
	}
	if secret == "" {
		return nil, errors.New("payment callback secret is required")
	}
	return &HostedGateway{baseURL: baseURL, returnURL: returnURL, secret: []byte(secret)}, nil
}

func (g *HostedGateway) Initiate(ctx context.Context, req Request) (Initiation, error) {
	if err := ctx.Err(); err != nil {
		return Initiation{}, err
	}
	if req.Amount <= 0 {
		return Initiation{}, ErrGatewayDeclined
	}
	ref := "HP-" + strings.ReplaceAll(req.PaymentID, "-", "")
	amount := strconv.FormatInt(req.Amount, 10)

	u, _ := url.Parse(g.baseURL)
	q := u.Query()
	q.Set("payment_id", req.PaymentID)
	q.Set("booking_id", req.BookingID)
	q.Set("method", req.Method)
	q.Set("amount", amount)
	q.Set("reference", ref)
	if g.returnURL != "" {
		q.Set("return_url", g.returnURL)
	}
	q.Set("sig", g.sign(req.PaymentID, req.BookingID, amount, ref))
	u.RawQuery = q.Encode()
	return Initiation{Reference: ref, RedirectURL: u.String()}, nil
}

func (g *HostedGateway) VerifyCallback(cb Callback) error {
	if !cb.Outcome.Valid() {
		return ErrInvalidSignature
	}
	want := g.sign(cb.PaymentID, cb.BookingID, string(cb.Outcome), cb.Reference)
	got, err := hex.DecodeString(cb.Signature)
	if err != nil {
		return ErrInvalidSignature
	}
	wantRaw, _ := hex.DecodeString(want)
	if !hmac.Equal(got, wantRaw) {
		return ErrInvalidSignature
	}
	return nil
}

// SignCallback computes the signature a provider attaches to cb.
func (g *HostedGateway) SignCallback(cb Callback) string {
	return g.sign(cb.PaymentID, cb.BookingID, string(cb.Outcome), cb.Reference)
}

func (g *HostedGateway) sign(parts ...string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}
