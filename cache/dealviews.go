package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"dealflow/deal"
	"dealflow/trust"
)

const keyPrefix = "dealflow:view:"

// DealViews is a disposable read-through projection of public deal views.
// It is never authoritative: every miss or decode failure falls back to
// storage, and confirm/void invalidate the key. A nil *DealViews is a
// no-op cache, so callers never branch on whether Redis is configured.
type DealViews struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects a deal view cache. Returns nil (disabled) when addr is
// empty.
func New(addr, password string, db int, ttl time.Duration) *DealViews {
	if addr == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &DealViews{client: client, ttl: ttl}
}

// Get returns the cached deal for the public id, if present and decodable.
func (c *DealViews) Get(ctx context.Context, publicID string) (deal.Deal, bool) {
	if c == nil {
		return deal.Deal{}, false
	}
	raw, err := c.client.Get(ctx, keyPrefix+publicID).Bytes()
	if err != nil {
		return deal.Deal{}, false
	}
	var view cachedDeal
	if err := json.Unmarshal(raw, &view); err != nil {
		return deal.Deal{}, false
	}
	return view.toDeal(), true
}

// Set stores the projection. Errors are swallowed; the cache is allowed
// to be cold.
func (c *DealViews) Set(ctx context.Context, d deal.Deal) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(fromDeal(d))
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, keyPrefix+d.PublicID, raw, c.ttl).Err()
}

// Invalidate drops the projection after a state transition.
func (c *DealViews) Invalidate(ctx context.Context, publicID string) {
	if c == nil {
		return
	}
	_ = c.client.Del(ctx, keyPrefix+publicID).Err()
}

// Close releases the underlying connection.
func (c *DealViews) Close() error {
	if c == nil {
		return nil
	}
	if err := c.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// cachedDeal is the wire shape of the projection. Kept separate from
// deal.Deal so the domain type stays free of JSON annotations.
type cachedDeal struct {
	ID              string      `json:"id"`
	PublicID        string      `json:"public_id"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	TemplateRef     string      `json:"template_ref"`
	Terms           []deal.Term `json:"terms"`
	CreatorID       string      `json:"creator_id"`
	RecipientName   string      `json:"recipient_name"`
	RecipientEmail  *string     `json:"recipient_email,omitempty"`
	RecipientID     *string     `json:"recipient_id,omitempty"`
	RequiredTier    string      `json:"required_tier"`
	Status          string      `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	ConfirmedAt     *time.Time  `json:"confirmed_at,omitempty"`
	Signature       *string     `json:"signature,omitempty"`
	SealFingerprint *string     `json:"seal_fingerprint,omitempty"`
}

func fromDeal(d deal.Deal) cachedDeal {
	return cachedDeal{
		ID:              d.ID,
		PublicID:        d.PublicID,
		Title:           d.Title,
		Description:     d.Description,
		TemplateRef:     d.TemplateRef,
		Terms:           d.Terms,
		CreatorID:       d.CreatorID,
		RecipientName:   d.RecipientName,
		RecipientEmail:  d.RecipientEmail,
		RecipientID:     d.RecipientID,
		RequiredTier:    string(d.RequiredTier),
		Status:          string(d.Status),
		CreatedAt:       d.CreatedAt,
		ConfirmedAt:     d.ConfirmedAt,
		Signature:       d.Signature,
		SealFingerprint: d.SealFingerprint,
	}
}

func (c cachedDeal) toDeal() deal.Deal {
	return deal.Deal{
		ID:              c.ID,
		PublicID:        c.PublicID,
		Title:           c.Title,
		Description:     c.Description,
		TemplateRef:     c.TemplateRef,
		Terms:           c.Terms,
		CreatorID:       c.CreatorID,
		RecipientName:   c.RecipientName,
		RecipientEmail:  c.RecipientEmail,
		RecipientID:     c.RecipientID,
		RequiredTier:    trust.Tier(c.RequiredTier),
		Status:          deal.Status(c.Status),
		CreatedAt:       c.CreatedAt,
		ConfirmedAt:     c.ConfirmedAt,
		Signature:       c.Signature,
		SealFingerprint: c.SealFingerprint,
	}
}
