package reconcile

import (
	"time"

	"github.com/kursadbilgin/podledger/internal/domain"
)

// The functions in this file are pure: they never touch the cache, the
// network or the engine lock.

func assetSet(throws []domain.Throw) map[uint64]struct{} {
	ids := make(map[uint64]struct{}, len(throws))
	for _, t := range throws {
		if t.HasAssetID() {
			ids[t.AssetID] = struct{}{}
		}
	}
	return ids
}

// Merge builds the consumer view: live pending throws first, then confirmed.
// A pending throw whose asset id is already confirmed is left out, as is any
// repeat of an asset id, so no two entries ever share a non-zero asset id.
func Merge(confirmed, pending []domain.Throw, now time.Time, timeout time.Duration) []domain.Throw {
	confirmedIDs := assetSet(confirmed)
	live := AgeOut(pending, now, timeout)

	out := make([]domain.Throw, 0, len(live)+len(confirmed))
	seen := make(map[uint64]struct{}, len(live)+len(confirmed))
	for _, p := range live {
		if p.HasAssetID() {
			if _, ok := confirmedIDs[p.AssetID]; ok {
				continue
			}
			if _, ok := seen[p.AssetID]; ok {
				continue
			}
			seen[p.AssetID] = struct{}{}
		}
		p.IsPending = true
		out = append(out, p)
	}
	for _, c := range confirmed {
		if c.HasAssetID() {
			if _, ok := seen[c.AssetID]; ok {
				continue
			}
			seen[c.AssetID] = struct{}{}
		}
		c.IsPending = false
		c.CreatedAt = 0
		out = append(out, c)
	}
	return out
}

// ResolvePending splits pending into the throws still waiting and the ones
// whose asset id now appears among confirmed. Only identity resolves a throw.
func ResolvePending(pending, confirmed []domain.Throw) (remaining, resolved []domain.Throw) {
	confirmedIDs := assetSet(confirmed)
	remaining = make([]domain.Throw, 0, len(pending))
	for _, p := range pending {
		if p.HasAssetID() {
			if _, ok := confirmedIDs[p.AssetID]; ok {
				resolved = append(resolved, p)
				continue
			}
		}
		remaining = append(remaining, p)
	}
	return remaining, resolved
}

// AgeOut drops pending throws created before now-timeout.
func AgeOut(pending []domain.Throw, now time.Time, timeout time.Duration) []domain.Throw {
	cutoff := now.Add(-timeout).UnixMilli()
	out := make([]domain.Throw, 0, len(pending))
	for _, p := range pending {
		if p.CreatedAt < cutoff {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Stamp marks t as a pending throw created at now.
func Stamp(t domain.Throw, now time.Time) domain.Throw {
	t.IsPending = true
	t.CreatedAt = now.UnixMilli()
	t.ConfirmedAt = time.Time{}
	return t
}

// Prepend puts t in front of pending, replacing any throw with the same local
// id.
func Prepend(pending []domain.Throw, t domain.Throw) []domain.Throw {
	out := make([]domain.Throw, 0, len(pending)+1)
	out = append(out, t)
	for _, p := range pending {
		if p.LocalID == t.LocalID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// AssignAssetID records the ledger identity learned for a pending throw.
func AssignAssetID(pending []domain.Throw, localID string, assetID uint64) ([]domain.Throw, bool) {
	out := make([]domain.Throw, len(pending))
	copy(out, pending)
	for i := range out {
		if out[i].LocalID == localID {
			out[i].AssetID = assetID
			return out, true
		}
	}
	return out, false
}

// Remove drops the pending throw with localID.
func Remove(pending []domain.Throw, localID string) ([]domain.Throw, bool) {
	out := make([]domain.Throw, 0, len(pending))
	found := false
	for _, p := range pending {
		if p.LocalID == localID {
			found = true
			continue
		}
		out = append(out, p)
	}
	return out, found
}
