package model

import "fmt"

// fnv32 is a small, dependency-free 32-bit hash. Any stable hash would do;
// FNV-1a is used because it is a pure function with no external state,
// which is the only property makeOptionId's determinism invariant needs.
func fnv32(seed int, s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32) ^ uint32(uint(seed))
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

// MakeOptionID derives the stable short identifier for an option text at
// baseIndex. It is a pure function: identical (baseIndex, text) always
// produces the identical id, which is what testable property 5 requires.
func MakeOptionID(baseIndex int, text string) string {
	return fmt.Sprintf("%d-%08x", baseIndex, fnv32(baseIndex, text))
}

// MakeOptionIDs derives option ids for a full option list in order.
func MakeOptionIDs(baseIndex int, options []string) []string {
	ids := make([]string, len(options))
	for i, opt := range options {
		ids[i] = MakeOptionID(baseIndex, opt)
	}
	return ids
}
