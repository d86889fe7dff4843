// Package log wraps zerolog with the global logger and component-scoped
// child loggers used throughout squares.
package log
