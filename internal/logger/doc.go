// Package logger wraps zap with a global sugared logger, context helpers
// (ToContext/FromContext/WithName/WithKV), level parsing and an optional
// rotating file sink.
//
// Engine components never print; they take a context and log through the
// logger stored in it, so the daemon can tag every record of a request.
package logger
