package routing

import "github.com/cespare/xxhash/v2"

// Hasher maps a routing string (a cache key, or a tag name when an
// operation is tag-scoped) onto an arbitrary 32-bit value. Table uses
// the result modulo the Bucket count to pick a target Bucket.
type Hasher interface {
	Hash(routingString string) int32
}

// WeakHash is the mandated routing hash: an unchecked, wrap-around
// sum of character values seeded at 17. As a plain sum it is invariant
// under character permutation (two anagrams hash identically) and is
// collision-prone, but it is kept as the default because
// reimplementations need to route identically to any other
// menismu/dache-compatible client sharing the same fleet.
type WeakHash struct{}

func (WeakHash) Hash(routingString string) int32 {
	h := int32(17)
	for _, r := range routingString {
		// Deliberately unchecked wrap-around arithmetic, matching the
		// reference implementation bit for bit.
		h += int32(r)
	}
	return h
}

// XXHash64To32 is a stronger, non-default alternative, substitutable
// in place of WeakHash when wire compatibility with other
// menismu/dache clients doesn't matter. It is not used unless a Table
// is explicitly constructed with it.
type XXHash64To32 struct{}

func (XXHash64To32) Hash(routingString string) int32 {
	sum := xxhash.Sum64String(routingString)
	return int32(uint32(sum))
}

var (
	_ Hasher = WeakHash{}
	_ Hasher = XXHash64To32{}
)
