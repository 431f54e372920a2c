// Package events defines the negotiation events emitted on the event bus.
//
// Available event types:
//   - RoundEvent: a negotiation round finished
//   - OutcomeEvent: a negotiation reached a terminal status
//   - CommitEvent: schedules were written back to the store
package events
