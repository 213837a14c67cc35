// Package log provides structured logging via zerolog: a global
// logger initialized once with log.Init, and per-component child
// loggers created with WithComponent.
package log
