// Package artifact persists intermediate stage outputs in the run
// directory so a later invocation can resume mid-pipeline.
//
// Every artifact file is one CBOR-encoded envelope:
//
//	{format, version, kind, created, checksum, size, payload}
//
// payload is the zstd-compressed Core Deterministic CBOR encoding of the
// stage output (an ir.Tribe, ir.Party, ...). checksum is the BLAKE3
// digest of the uncompressed payload. A reader rejects a file whose
// format, version or kind it does not expect, and a file whose checksum
// does not match, rather than silently resuming from bad data.
//
// Files are written atomically (temporary file, fsync, rename), so a
// crash mid-write leaves the previous artifact or none.
package artifact
