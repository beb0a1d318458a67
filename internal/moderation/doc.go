// Package moderation screens chat messages against a dynamically updatable
// list of forbidden words and turns repeated violations into escalating
// punishments.
//
// Literal patterns are matched with a multi-pattern automaton whose search
// cost depends only on the length of the message. The automaton is immutable
// once built and is shared by every concurrent evaluation; administrative
// changes build a replacement off to the side and swap it in atomically.
//
// Per message the Pipeline runs:
//
//	exclusion check -> first match -> violation count -> stage -> outcome
//
// The package performs no I/O. Outcomes carry pre-rendered warning text and
// commands for a collaborator to display or dispatch.
package moderation
