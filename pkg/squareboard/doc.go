/*
Package squareboard mirrors popular messages into a dedicated channel.

A message qualifies once Threshold distinct users have reacted to it with any
square color. Each Refresh compares the message's current state with its
stored entry and performs at most one transition:

	not qualified, no entry   none
	qualified, no entry       insert  post a new mirror embed
	qualified, entry          amend   edit the mirror in place
	not qualified, entry      delete  remove the mirror and the entry

A mirror deleted out-of-band is re-posted on the next amend. Entries are
persisted per transition; a failed write marks the projection dirty and the
next write saves every entry.
*/
package squareboard
