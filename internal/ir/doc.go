// Package ir provides the value records shared by every quakerun package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the pipeline vocabulary
// (steps, ledger records, parameters, detections) as the foundational layer
// with no circular dependencies.
//
// Key design constraints:
//   - Domain objects are plain values addressed by stable identifiers
//     (template name, detection key), never by pointer identity
//   - StepName order is fixed at compile time and never reordered
//   - All JSON and CBOR tags use snake_case
package ir
