package firewall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"

	"grimm.is/warden/internal/blocker"
	"grimm.is/warden/internal/state"
)

const (
	bucketBlocklist = "blocklist"
	bucketGeo       = "geo"
	keyGeoPolicy    = "policy"
)

type geoPolicy struct {
	Enabled   bool     `json:"enabled"`
	Countries []string `json:"countries"`
}

// restore loads saved state. Saved geo policy overrides the configured one;
// blocklist entries are merged.
func (f *Firewall) restore() {
	if f.store == nil {
		return
	}

	raw, err := f.store.List(bucketBlocklist)
	if err != nil {
		f.logger.Warn("failed to read saved blocklist", "error", err)
	} else {
		entries := make([]blocker.Entry, 0, len(raw))
		for key, v := range raw {
			var e blocker.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				f.logger.Warn("skipping corrupt blocklist entry", "key", key, "error", err)
				continue
			}
			entries = append(entries, e)
		}
		if n := f.blocker.Restore(entries); n > 0 {
			f.logger.Info("restored blocklist", "entries", n, "saved", len(entries))
		}
	}

	var gp geoPolicy
	switch err := f.store.GetJSON(bucketGeo, keyGeoPolicy, &gp); {
	case err == nil:
		f.geo.Configure(gp.Enabled, gp.Countries)
		f.logger.Info("restored geo policy", "enabled", gp.Enabled, "countries", gp.Countries)
	case errors.Is(err, state.ErrNotFound):
	default:
		f.logger.Warn("failed to read saved geo policy", "error", err)
	}
}

// Snapshot writes the whole blocklist and the geo policy to the store.
func (f *Firewall) Snapshot(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	entries := f.blocker.Entries()
	values := make(map[string][]byte, len(entries))
	for _, e := range entries {
		v, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode blocklist entry %s: %w", e.Addr, err)
		}
		values[e.Addr.String()] = v
	}
	if err := f.store.ReplaceBucket(bucketBlocklist, values); err != nil {
		return fmt.Errorf("save blocklist: %w", err)
	}
	if err := f.store.SetJSON(bucketGeo, keyGeoPolicy, geoPolicy{
		Enabled:   f.geo.Enabled(),
		Countries: f.geo.Countries(),
	}); err != nil {
		return fmt.Errorf("save geo policy: %w", err)
	}
	return nil
}

func (f *Firewall) persistEntry(e blocker.Entry) {
	if f.store == nil {
		return
	}
	if err := f.store.SetJSON(bucketBlocklist, e.Addr.String(), e); err != nil {
		f.logger.Warn("failed to persist blocklist entry", "ip", e.Addr, "error", err)
	}
}

func (f *Firewall) deleteEntry(addr netip.Addr) {
	if f.store == nil {
		return
	}
	if err := f.store.Delete(bucketBlocklist, addr.String()); err != nil && !errors.Is(err, state.ErrNotFound) {
		f.logger.Warn("failed to delete blocklist entry", "ip", addr, "error", err)
	}
}

func (f *Firewall) persistGeo() {
	if f.store == nil {
		return
	}
	gp := geoPolicy{Enabled: f.geo.Enabled(), Countries: f.geo.Countries()}
	if err := f.store.SetJSON(bucketGeo, keyGeoPolicy, gp); err != nil {
		f.logger.Warn("failed to persist geo policy", "error", err)
	}
}
