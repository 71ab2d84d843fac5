// Package hash provides the key mixer used for shard routing.
//
// Store keys are caller-chosen uint64s and often sequential; routing them
// to shards by their low bits would pile neighbors onto one shard. Mix64
// runs the splitmix64 finalizer over the key so every input bit affects
// every output bit, which is all the index needs - this is placement
// hashing, not integrity hashing.
package hash

// Mix64 applies the splitmix64 finalizer to x.
func Mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
