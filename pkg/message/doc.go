// Package message implements the outbound message sequencer.
//
// Messages submitted to the same named sequence reach the server in
// submission order and their outcomes reach listeners in the same order:
// when the server reports on message K, every lower message of the
// sequence that is still outstanding is reported discarded first.
// Messages of the reserved unordered sequence carry no ordering
// guarantee, and when submitted without a listener they are sent
// fire-and-forget with no bookkeeping at all.
//
// Each message gets exactly one terminal callback: processed, denied,
// error, discarded or aborted.
package message
