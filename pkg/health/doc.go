/*
Package health probes the dependencies squares cannot run without.

A Checker probes one dependency and returns a Result. FuncChecker wraps a
ping function such as the bbolt store or discord gateway readiness, and
HTTPChecker hits an HTTP endpoint such as InfluxDB's /health route.

A Monitor runs each registered checker on its own interval, folds results
into a Status (Retries consecutive failures mark a dependency unhealthy, a
single success restores it) and hands every status to a Reporter. The serve
command reports into metrics.UpdateComponent so /health and /ready reflect
live dependency state:

	mon := health.NewMonitor(metrics.UpdateComponent)
	mon.Register(metrics.ComponentStorage, health.NewFuncChecker(mgr.Ping), health.DefaultConfig())
	mon.Start(ctx)
	defer mon.Stop()
*/
package health
