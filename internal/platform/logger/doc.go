// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels. A logger travels through request and worker
// contexts, and attributes attached with WithAttrs are added to every record
// written with that context.
package logger
