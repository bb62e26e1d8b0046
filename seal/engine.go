package seal

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Certificate is the sealed record handed to the rendering and delivery
// collaborators after a deal is confirmed.
type Certificate struct {
	Document    Document
	Fingerprint string
	VerifyURL   string
	ConfirmedAt time.Time
}

// CertificateRenderer produces the certificate PDF. The layout engine is
// an external collaborator.
type CertificateRenderer interface {
	Render(ctx context.Context, cert Certificate) ([]byte, error)
}

// ReceiptSender delivers the sealed certificate to the recipient.
type ReceiptSender interface {
	Send(ctx context.Context, dealID, email string, attachment []byte) error
}

// Engine orchestrates the post-confirmation hand-off. The sealed deal row
// is the source of truth; rendering or delivery failures never unwind a
// confirmation.
type Engine struct {
	baseURL  string
	renderer CertificateRenderer
	sender   ReceiptSender
}

func NewEngine(baseURL string, renderer CertificateRenderer, sender ReceiptSender) *Engine {
	return &Engine{
		baseURL:  strings.TrimRight(baseURL, "/"),
		renderer: renderer,
		sender:   sender,
	}
}

// VerificationURL builds the externally visible link embedded in the
// sealed certificate. The page resolving it is out of scope.
func (e *Engine) VerificationURL(publicID string) string {
	return fmt.Sprintf("%s/verify/%s", e.baseURL, publicID)
}

// Deliver renders the certificate and sends the receipt. Either
// collaborator may be absent; missing pieces turn the hand-off into a
// no-op for that half.
func (e *Engine) Deliver(ctx context.Context, cert Certificate, email string) error {
	if e.renderer == nil {
		return nil
	}
	pdf, err := e.renderer.Render(ctx, cert)
	if err != nil {
		return fmt.Errorf("seal: render certificate: %w", err)
	}
	if e.sender == nil || email == "" {
		return nil
	}
	if err := e.sender.Send(ctx, cert.Document.DealID, email, pdf); err != nil {
		return fmt.Errorf("seal: send receipt: %w", err)
	}
	return nil
}
