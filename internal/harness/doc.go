// Package harness replays sync scenarios against the real engine.
//
// A scenario wires in-memory contact systems through one SQLite store and
// drives them step by step: rows are put into systems, and functions are
// run as "<system>/<stage>". Every step lands in a trace, and assertions
// are checked against the trace, the store and the systems afterwards.
//
// # Scenario Format
//
//	name: round_trip
//	description: "A contact edited in the sheet reaches the crm once"
//	systems:
//	  - name: crm
//	  - name: sheet
//	    bidirectional: true
//	flow:
//	  - put: { system: crm, id: a1, name: Ann, email: ann@example.com }
//	  - run: crm/Read
//	    expect:
//	      outcome: Success
//	      counts: { read: 1, staged: 1 }
//	  - advance: 1h
//	assertions:
//	  - type: trace_contains
//	    function: crm/Promote
//	    expect: { created: 1 }
//	  - type: final_state
//	    table: core_entities
//	    where: { core_id: core-1 }
//	    expect: { system: crm }
//	  - type: system_record
//	    system: crm
//	    id: a1
//	    expect: { name: Ann }
//
// # Assertion Types
//
//   - trace_contains: a run of the function matches every expect field
//   - trace_order: the functions first ran in the given order
//   - trace_count: the function ran exactly count times
//   - final_state: exactly one row of a store table matches where and expect
//   - system_record: a system row has the expected fields
//
// # Deterministic Testing
//
// Every scenario gets a fresh in-memory database, a clock that starts at
// 2024-01-01T00:00:00Z and moves one second per reading, and sequential
// ids: core-N for core entities, staged-N for staged entities and
// <system>-N for rows a system creates. Traces are therefore identical
// across runs and are compared to golden files.
package harness
