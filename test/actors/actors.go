package actors

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"dealflow/audit"
	"dealflow/deal"
)

// Target is one deal the actors contend over, together with a share
// token secret usable against it.
type Target struct {
	DealID   string
	PublicID string
	Secret   string
}

// Registry is the shared pool of live targets. Creators add, everyone
// else picks at random.
type Registry struct {
	mu      sync.Mutex
	targets []Target
}

func (r *Registry) Add(t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, t)
}

func (r *Registry) Random() (Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.targets) == 0 {
		return Target{}, false
	}
	return r.targets[rand.Intn(len(r.targets))], true
}

// The actors deliberately swallow operational errors: under chaos the
// connection they hold may be terminated mid-call, and rejection errors
// (already sealed, token used, voided) are expected outcomes of the
// race. The oracles, not the actors, decide whether state is consistent.

// Creator keeps minting fresh pending deals and registers them for the
// other actors to fight over.
func Creator(ctx context.Context, svc *deal.Service, creatorID string, reg *Registry, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		d, tok, err := svc.Create(ctx, creatorID, deal.CreateParams{
			Title:         fmt.Sprintf("Stress deal %d", rand.Int63()),
			RecipientName: "Dana",
			Terms:         []deal.Term{{Label: "Fee", Value: "100", Type: "currency"}},
		})
		if err == nil {
			reg.Add(Target{DealID: d.ID, PublicID: d.PublicID, Secret: tok.Secret})
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Signer races sealing attempts against random targets. At most one
// attempt per deal may ever win; the oracles verify that afterwards.
func Signer(ctx context.Context, svc *deal.Service, reg *Registry, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if t, ok := reg.Random(); ok {
			_, _ = svc.BeginSeal(ctx, deal.SealParams{
				DealID:          t.DealID,
				PublicID:        t.PublicID,
				Secret:          t.Secret,
				Signature:       fmt.Sprintf("Dana R. %d", rand.Int63()),
				SignatureMethod: "typed",
			})
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Voider races the creator's cancel against the signers.
func Voider(ctx context.Context, svc *deal.Service, creatorID string, reg *Registry, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if t, ok := reg.Random(); ok {
			_, _ = svc.Void(ctx, t.DealID, creatorID)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Reissuer mints replacement tokens for pending deals; new secrets join
// the registry so signers exercise multiple live tokens per deal.
func Reissuer(ctx context.Context, svc *deal.Service, creatorID string, reg *Registry, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if t, ok := reg.Random(); ok {
			if tok, err := svc.ReissueToken(ctx, t.DealID, creatorID); err == nil {
				reg.Add(Target{DealID: t.DealID, PublicID: t.PublicID, Secret: tok.Secret})
			}
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// Viewer hits the read paths the whole time state is churning.
func Viewer(ctx context.Context, svc *deal.Service, reg *Registry, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if t, ok := reg.Random(); ok {
			_, _ = svc.GetStatusView(ctx, t.PublicID, t.Secret, "")
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// AccessLogger appends standalone access events alongside the lifecycle
// writes so the ledger sees mixed transactional and direct inserts.
func AccessLogger(ctx context.Context, ledger *audit.Ledger, reg *Registry, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if t, ok := reg.Random(); ok {
			_ = ledger.AppendStandalone(ctx, audit.Entry{
				DealID:    t.DealID,
				Type:      audit.EventDealViewed,
				ActorRole: audit.RoleRecipient,
			})
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}
