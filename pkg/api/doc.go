/*
Package api serves a read-only HTTP view of the squares state with gin.

Routes:

	GET /health /ready /live        component health (see package metrics)
	GET /metrics                    Prometheus exposition
	GET /v1/info                    color legend and squareboard threshold
	GET /v1/leaderboard             tallies and scores of every visible user
	GET /v1/messages/:id            tally, unique reactors and mirror of a message
	GET /v1/users/:id/tally         tally received, ?source= narrows to one giver
	GET /v1/users/:id/score         weighted score
	GET /v1/top/:color              messages ranked by one color, ?author= ?limit=

Any method other than GET, HEAD or OPTIONS is rejected with 405. Queries go
through the Querier interface, which *manager.Manager satisfies.
*/
package api
