// Package harness runs resumption scenarios against the pipeline engine.
//
// A scenario drives a real engine and SQLite ledger on a temporary run
// directory. Collaborators and the batch scheduler are the fakes from
// testutil, and the clock ticks one second per read, so every run of a
// scenario produces the same trace and ledger.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	parameters:
//	  min_chans: "4"
//	collaborators:
//	  drop_self: [tpl-1]
//	flow:
//	  - op: new_run
//	    expect:
//	      steps: [TribeConstruction/completed, ...]
//	  - op: set_params
//	    params: { min_cc: "0.6" }
//	  - op: rerun
//	    expect:
//	      start: LagCalc
//	assertions:
//	  - type: ledger
//	    entries: [TribeConstruction/completed, ...]
//	  - type: counts
//	    step: LagCalc
//	    expect: { families: 3 }
//
// Flow operations map to engine operations (new_run, rerun, plan,
// correlate, relocate, depurate, complete, set_params) or change the
// environment between them (fail, heal, reject_jobs, accept_jobs,
// remove).
//
// # Assertion Types
//
//   - ledger: the final ledger entries as step/phase, exactly and in order
//   - last_completed: the last completed step under current parameters
//   - pending: the batch steps submitted but not completed
//   - counts: counters of the newest live entry of a step
//     (completed unless phase: submitted is given)
//   - calls: how often a collaborator operation ran
//   - generation: the final ledger generation
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/resume.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario, dir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, msg := range result.Errors {
//	    log.Println(msg)
//	}
package harness
