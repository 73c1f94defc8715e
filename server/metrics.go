package server

import "time"

// PathRedactor is a function type for custom path redaction in logs.
// It takes a file path and returns a redacted version for privacy.
//
// Example:
//
//	// Redact middle components
//	func(path string) string {
//	    parts := strings.Split(path, "/")
//	    if len(parts) > 3 {
//	        for i := 2; i < len(parts)-1; i++ {
//	            parts[i] = "*"
//	        }
//	    }
//	    return strings.Join(parts, "/")
//	}
type PathRedactor func(path string) string

// MetricsCollector is an optional interface for collecting server metrics.
// Implementations can forward them to Prometheus, StatsD and the like.
//
// Every method is called from the event loop and must return quickly;
// hand slow work to another goroutine.
type MetricsCollector interface {
	// RecordCommand records one dispatched command. success is true for
	// 1xx, 2xx and 3xx replies.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer records a completed transfer. operation is the verb
	// ("RETR", "STOR", "APPE", "LIST", "NLST").
	RecordTransfer(operation string, bytes int64, duration time.Duration)

	// RecordConnection records a connection attempt. reason is
	// "accepted", "global_limit_reached" or "per_ip_limit_reached".
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication records a login attempt.
	RecordAuthentication(success bool, user string)
}
