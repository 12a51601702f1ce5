// Package ir defines the shared data model of coresync and the checksum
// algorithm used to decide whether a change is meaningful.
//
// Every other internal package imports ir; ir imports nothing internal.
//
// Key design constraints:
//   - Checksums are computed over a checksum subset (IRObject), never over a
//     whole entity. Ids and timestamps must stay out of the subset.
//   - Checksum subsets hold no floats. Decimal amounts are carried as
//     strings so the digest is identical on every platform.
//   - CoreMeta and Map are values. New versions are derived with the
//     With*/Updated constructors instead of being mutated in place.
//   - Timestamps are always UTC.
package ir
