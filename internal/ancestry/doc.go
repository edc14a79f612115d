// Package ancestry parses an event's reference tags into the identifiers of
// the events it descends from.
//
// Three categories are produced, always in this order:
//
//   - Roots: the thread's originating event
//   - Replies: the direct predecessor (parent)
//   - Mentions: related events that are not part of the reply chain
//
// # Tag Grammar
//
// Reference tags are "e" (event id) and "a" (address, "kind:pubkey:d").
// "q" tags are quotes and always count as mentions.
//
// Marked form - the 4th element names the role:
//
//	["e", "<id>", "<relay>", "root"]
//	["e", "<id>", "<relay>", "reply"]
//	["e", "<id>", "<relay>", "mention"]
//
// When any reference tag is marked, unmarked "e"/"a" tags are mentions.
//
// Positional form (no markers anywhere):
//
//	one tag        -> reply
//	two or more    -> first is root, last is reply, the rest are mentions
//
// Extraction never fails. Missing or malformed tags simply yield empty
// categories, and empty identifiers are dropped.
package ancestry
