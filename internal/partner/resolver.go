package partner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ebrecho-wa/internal/repo"
)

// ErrUnknownPartner is returned when no partner owns the phone number id.
var ErrUnknownPartner = errors.New("unknown partner")

const defaultCacheTTL = 10 * time.Minute

// Store is the partner lookup the resolver needs from the repository.
type Store interface {
	GetPartnerByPhoneNumberID(ctx context.Context, phoneNumberID string) (*repo.Partner, error)
}

// Cache is a JSON key/value cache such as *cache.Redis.
type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

type cachedPartner struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	WhatsAppPhoneNumberID string    `json:"whatsapp_phone_number_id"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Resolver maps a business phone number id to its partner.
type Resolver struct {
	store  Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewResolver builds a resolver. cache may be nil.
func NewResolver(store Store, cache Cache, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Resolver{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "partner_resolver"),
	}
}

// Resolve returns the partner owning phoneNumberID or ErrUnknownPartner.
// Only positive lookups are cached so a newly seeded partner is seen at once.
func (r *Resolver) Resolve(ctx context.Context, phoneNumberID string) (*repo.Partner, error) {
	phoneNumberID = strings.TrimSpace(phoneNumberID)
	if phoneNumberID == "" {
		return nil, ErrUnknownPartner
	}

	key := cacheKey(phoneNumberID)
	if r.cache != nil {
		var cached cachedPartner
		ok, err := r.cache.GetJSON(ctx, key, &cached)
		switch {
		case err != nil:
			r.logger.Warn("partner cache read failed", "error", err, "phone_number_id", phoneNumberID)
		case ok:
			return &repo.Partner{
				ID:                    cached.ID,
				Name:                  cached.Name,
				WhatsAppPhoneNumberID: cached.WhatsAppPhoneNumberID,
				CreatedAt:             cached.CreatedAt,
				UpdatedAt:             cached.UpdatedAt,
			}, nil
		}
	}

	p, err := r.store.GetPartnerByPhoneNumberID(ctx, phoneNumberID)
	if err != nil {
		if errors.Is(err, repo.ErrPartnerNotFound) {
			return nil, ErrUnknownPartner
		}
		return nil, fmt.Errorf("resolve partner %s: %w", phoneNumberID, err)
	}

	if r.cache != nil {
		entry := cachedPartner{
			ID:                    p.ID,
			Name:                  p.Name,
			WhatsAppPhoneNumberID: p.WhatsAppPhoneNumberID,
			CreatedAt:             p.CreatedAt,
			UpdatedAt:             p.UpdatedAt,
		}
		if err := r.cache.SetJSON(ctx, key, entry, r.ttl); err != nil {
			r.logger.Warn("partner cache write failed", "error", err, "phone_number_id", phoneNumberID)
		}
	}
	return p, nil
}

func cacheKey(phoneNumberID string) string {
	return "partner:" + phoneNumberID
}
