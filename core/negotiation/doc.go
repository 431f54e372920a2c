// Package negotiation implements the round based protocol through which
// agents and containers agree on schedules meeting an aggregate target.
//
// A Coordinator leases the resources reachable from the participants,
// drives an Engine to a terminal status and commits the outcome atomically
// on convergence. A Runner executes many negotiations, running unrelated
// ones in parallel and serialising those sharing resources.
package negotiation
