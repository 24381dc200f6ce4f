package partner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"ebrecho-wa/internal/repo"
)

// SeedStore is the write side used by Seed.
type SeedStore interface {
	UpsertPartner(ctx context.Context, partner repo.Partner) (*repo.Partner, error)
}

// Invalidator drops cached resolver entries after a seed run.
type Invalidator interface {
	Delete(ctx context.Context, keys ...string) error
}

// ErrCacheInvalidation is returned by Seed when every partner was written but
// the cached lookups could not be dropped. Stale entries expire with their TTL.
var ErrCacheInvalidation = errors.New("partner cache invalidation failed")

// SeedFile is the on-disk layout of a partner seed file:
//
//	partners:
//	  - name: Brechó da Ana
//	    whatsapp_phone_number_id: "826543520541078"
type SeedFile struct {
	Partners []SeedEntry `yaml:"partners"`
}

// SeedEntry is one partner in a seed file.
type SeedEntry struct {
	ID                    string `yaml:"id"`
	Name                  string `yaml:"name"`
	WhatsAppPhoneNumberID string `yaml:"whatsapp_phone_number_id"`
}

// ParseSeed decodes and validates a seed file.
func ParseSeed(r io.Reader) (SeedFile, error) {
	var file SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return SeedFile{}, errors.New("seed file is empty")
		}
		return SeedFile{}, fmt.Errorf("decode seed file: %w", err)
	}

	seen := make(map[string]int, len(file.Partners))
	var errs []error
	for i := range file.Partners {
		entry := &file.Partners[i]
		entry.Name = strings.TrimSpace(entry.Name)
		entry.WhatsAppPhoneNumberID = strings.TrimSpace(entry.WhatsAppPhoneNumberID)
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("partners[%d]: name is required", i))
		}
		if entry.WhatsAppPhoneNumberID == "" {
			errs = append(errs, fmt.Errorf("partners[%d]: whatsapp_phone_number_id is required", i))
			continue
		}
		if prev, dup := seen[entry.WhatsAppPhoneNumberID]; dup {
			errs = append(errs, fmt.Errorf("partners[%d]: phone number id %s already used by partners[%d]", i, entry.WhatsAppPhoneNumberID, prev))
		}
		seen[entry.WhatsAppPhoneNumberID] = i
	}
	if len(errs) > 0 {
		return SeedFile{}, errors.Join(errs...)
	}
	return file, nil
}

// Seed upserts every partner of the seed file and returns how many were
// written. When cache is not nil the resolver entries for the seeded phone
// number ids are deleted so renames are visible before the TTL runs out.
func Seed(ctx context.Context, store SeedStore, cache Invalidator, r io.Reader) (int, error) {
	file, err := ParseSeed(r)
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(file.Partners))
	for i, entry := range file.Partners {
		if _, err := store.UpsertPartner(ctx, repo.Partner{
			ID:                    entry.ID,
			Name:                  entry.Name,
			WhatsAppPhoneNumberID: entry.WhatsAppPhoneNumberID,
		}); err != nil {
			return i, fmt.Errorf("seed partner %s: %w", entry.WhatsAppPhoneNumberID, err)
		}
		keys = append(keys, cacheKey(entry.WhatsAppPhoneNumberID))
	}
	if cache != nil {
		if err := cache.Delete(ctx, keys...); err != nil {
			return len(file.Partners), fmt.Errorf("%w: %v", ErrCacheInvalidation, err)
		}
	}
	return len(file.Partners), nil
}
