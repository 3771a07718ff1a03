// Package canonical produces the deterministic JSON encoding that intweb
// checksums are computed over.
//
// Both ends of the access protocol hash the same bytes, so the encoding must
// be byte-for-byte reproducible:
//   - Object keys are sorted lexicographically at every nesting level
//   - No whitespace is emitted between tokens (separators "," and ":")
//   - Strings are escaped to pure ASCII, non-ASCII runes as \uXXXX
//     (surrogate pairs above the BMP); '<', '>' and '&' are left as-is
//
// This matches the server's reference encoder, which serializes with
// sorted keys, compact separators and ASCII-only output.
//
// # Accepted Values
//
// Marshal accepts nil, bool, all integer kinds, finite floats, strings,
// json.Number, slices and arrays, maps keyed by strings, structs (honouring
// `json` tags including "-" and omitempty), pointers and interfaces to the
// above, and json.Marshaler implementations (their output is re-canonicalized).
//
// Anything else fails with a *SerializationError.
package canonical
