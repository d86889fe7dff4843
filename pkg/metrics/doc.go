/*
Package metrics exposes Prometheus metrics, component health and the
optional InfluxDB sink.

Counters and histograms are registered at init and updated inline by the
manager and the squareboard projection. Gauges for store sizes are sampled
by a Collector from any StatsSource on a fixed interval.

Component health (storage, discord, api, influx) is kept in a process-wide
registry fed by UpdateComponent. HealthHandler reports "unhealthy" when a
critical component is down and "degraded" when only the Influx sink is.

InfluxSink subscribes to the event broker and, for every committed
transaction, writes the before and after tallies of each affected
source/target pair so dashboards can chart how scores move over time.
*/
package metrics
