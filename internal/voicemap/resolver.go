package voicemap

import (
	"context"
	"strings"
)

// Pools holds the configured fallback voices used when no explicit mapping
// applies.
type Pools struct {
	NarratorVoice string
	Female        []string
	Male          []string
}

// Resolver maps speaker keys to voice-character ids through a layered
// fallback chain. Resolution always reads the live mapping table, so edits
// take effect on the next line without restarts, and results are never
// cached.
type Resolver struct {
	store Store
	pools Pools
}

func NewResolver(store Store, pools Pools) *Resolver {
	return &Resolver{store: store, pools: pools}
}

// Resolve returns the voice id for a speaker and true, or ("", false) when no
// voice can be derived. Unresolved is a legitimate outcome, not an error:
// store failures also degrade to the automatic chain rather than failing the
// line.
//
// Order: explicit concrete mapping; AUTO_FEMALE/AUTO_MALE pool pick;
// narrator fallback for unnamed speakers; deterministic pool pick for named
// speakers.
func (r *Resolver) Resolve(ctx context.Context, speakerKey, displayName string) (string, bool) {
	speakerKey = strings.TrimSpace(speakerKey)

	if speakerKey != "" && r.store != nil {
		entry, ok, err := r.store.Get(ctx, speakerKey)
		if err == nil && ok {
			switch entry.Voice {
			case AutoFemale:
				if v, ok := pickDeterministic(speakerKey, r.pools.Female); ok {
					return v, true
				}
			case AutoMale:
				if v, ok := pickDeterministic(speakerKey, r.pools.Male); ok {
					return v, true
				}
			case "":
				// Absent voice on a present row means full auto; fall through.
			default:
				return entry.Voice, true
			}
		}
	}

	if speakerKey == "" && strings.TrimSpace(displayName) == "" {
		// Narrator slot.
		if r.pools.NarratorVoice != "" {
			return r.pools.NarratorVoice, true
		}
		if len(r.pools.Female) > 0 {
			return r.pools.Female[0], true
		}
		if len(r.pools.Male) > 0 {
			return r.pools.Male[0], true
		}
		return "", false
	}

	if v, ok := pickDeterministic(speakerKey, r.pools.Female); ok {
		return v, true
	}
	if v, ok := pickDeterministic(speakerKey, r.pools.Male); ok {
		return v, true
	}
	return "", false
}

func pickDeterministic(speakerKey string, pool []string) (string, bool) {
	if len(pool) == 0 {
		return "", false
	}
	return pool[int(KeyHash(speakerKey)%uint32(len(pool)))], true
}

// KeyHash is the pinned 32-bit rolling multiply-add hash over the UTF-8 bytes
// of the speaker key: h = h*31 + b, h0 = 0. The constants are a compatibility
// contract: auto voice assignment must land on the same pool index across
// every reimplementation, so this must not be swapped for a stdlib hash.
func KeyHash(key string) uint32 {
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	return h
}
