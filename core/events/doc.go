// Package events defines the session lifecycle events emitted on the event bus.
//
// Available event types:
//   - SessionStarted: a new matching attempt was opened on a link
//   - AttenuationProfileReady: the sounding phase was reduced to a profile
//   - Matched: the attempt succeeded and a network membership key exists
//   - Failed: the attempt was abandoned on a local error
//   - TimedOut: a protocol deadline elapsed without the expected frame
//
// Each event is emitted exactly once per session at the corresponding
// transition.
package events
