/*
Package observability provides tools for monitoring the callpath engine.

It includes Prometheus metrics fed by lifecycle hooks, structured logging hooks,
and helpers to combine several hook sets into one.
*/
package observability
