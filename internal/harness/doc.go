// Package harness runs scripted till sessions end to end.
//
// A scenario seeds a fresh till store, drives till operations through
// till.Service, can drain the outbox into an in-process cloud ledger, and
// then asserts on the trace of what happened and on the rows left in either
// database. Traces are compared against golden files.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	service_charge_percent: "10"
//	seed:
//	  tables: [{id: t-1, hall: main, name: Table 1}]
//	  products: [{id: p-plov, name: Plov, price: 10000, unit: piece}]
//	setup:
//	  - action: open_shift
//	    args: {cashier: u-1}
//	flow:
//	  - action: add_item
//	    args: {table: t-1, product: p-plov, qty: "2"}
//	    ref: plov
//	  - action: settle
//	    args: {table: t-1, tenders: [{instrument: cash, amount: 21999}]}
//	    expect:
//	      case: AMOUNT_MISMATCH
//	assertions:
//	  - type: final_state
//	    table: tables
//	    where: {id: t-1}
//	    expect: {status: payment}
//
// A step completes with case ok or with the error code the till returned.
// Steps without expect must complete ok.
//
// # Assertion Types
//
//   - trace_contains: an action was invoked with matching args
//   - trace_order: actions were first invoked in the given order
//   - trace_count: an action was invoked exactly N times
//   - final_state: exactly one row matches where and holds expect
//   - row_count: N rows match where
//
// final_state and row_count query the till database unless db: cloud is set.
//
// # Determinism
//
// Identifiers come from a counter, the clock steps one second per read from
// Epoch, and results never carry identifiers or timestamps, so a scenario's
// trace is the same on every run.
package harness
