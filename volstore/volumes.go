package volstore

import (
	"errors"
	"fmt"
	"math"

	"github.com/hazyhaar/tabvol/identity"
)

// DefaultVolume applies when no record exists for a page.
const DefaultVolume = 1.0

// ErrInvalidVolume is returned for NaN volumes.
var ErrInvalidVolume = errors.New("volstore: invalid volume")

// Volumes maps a page identity key (origin or decimal tab id) to a level in [0,1].
type Volumes map[string]float64

// Resolve returns the volume for id: origin key first, then session key.
// The returned key says which one matched.
func (v Volumes) Resolve(id identity.Identity) (vol float64, key string, ok bool) {
	for _, k := range id.Keys() {
		if x, found := v[k]; found {
			return x, k, true
		}
	}
	return DefaultVolume, "", false
}

// Clone returns a copy safe to hand to another goroutine.
func (v Volumes) Clone() Volumes {
	out := make(Volumes, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// Clamp bounds vol to [0,1]. NaN is rejected.
func Clamp(vol float64) (float64, error) {
	if math.IsNaN(vol) {
		return 0, fmt.Errorf("%w: NaN", ErrInvalidVolume)
	}
	return math.Min(1, math.Max(0, vol)), nil
}
