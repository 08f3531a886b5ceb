// Package batch hands long-running stages to the cluster scheduler.
//
// Four job kinds exist. new_run and rerun run the in-process stages of the
// pipeline; correlate runs cross-correlation, depuration and then submits
// the relocate job; relocate runs the relocation program and records the
// Relocations step. Each job is a shell script rendered from a template
// and handed to the submit command (sbatch by default). Only the
// scheduler's immediate accept or reject is inspected.
package batch
