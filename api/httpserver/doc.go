// Package httpserver provides the broker's HTTP surface: the BaseServer
// lifecycle (readiness, drain, pprof, metrics) and the route handlers for
// registration, bid submission, replay, balance queries and administration.
package httpserver
