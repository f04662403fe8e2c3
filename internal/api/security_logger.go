package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"
)

// SecurityLogger handles security-conscious logging with no raw secret exposure
type SecurityLogger struct {
	logger *log.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger() *SecurityLogger {
	logger := log.New(os.Stdout, "[SECURITY] ", log.LstdFlags|log.LUTC)
	return &SecurityLogger{
		logger: logger,
	}
}

// LogGameOperation logs a state-changing game call. Secrets are logged as
// hashes only.
func (sl *SecurityLogger) LogGameOperation(
	requestID string,
	operation string,
	gameID uint64,
	player string,
	secret string,
	outcome string,
) {
	sl.logger.Printf(
		"game_operation request_id=%s operation=%s game_id=%d player=%s secret_hash=%s outcome=%s engine_version=%s timestamp=%s",
		requestID,
		operation,
		gameID,
		player,
		sl.hashSeed(secret),
		outcome,
		EngineVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogSecurityEvent logs security-related events (failed validations, rejected tokens)
func (sl *SecurityLogger) LogSecurityEvent(
	requestID string,
	eventType string,
	description string,
	context map[string]interface{},
	remoteAddr string,
) {
	sanitizedContext := sl.sanitizeContext(context)

	sl.logger.Printf(
		"security_event request_id=%s type=%s description=%q context=%+v remote_addr=%s engine_version=%s timestamp=%s",
		requestID,
		eventType,
		description,
		sanitizedContext,
		remoteAddr,
		EngineVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogAuditEvent logs audit events for compliance and debugging
func (sl *SecurityLogger) LogAuditEvent(
	requestID string,
	action string,
	resource string,
	outcome string,
	details map[string]interface{},
) {
	sanitizedDetails := sl.sanitizeContext(details)

	sl.logger.Printf(
		"audit_event request_id=%s action=%s resource=%s outcome=%s details=%+v engine_version=%s timestamp=%s",
		requestID,
		action,
		resource,
		outcome,
		sanitizedDetails,
		EngineVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// hashSeed creates a SHA256 hash of a secret for logging (first 16 chars for brevity)
func (sl *SecurityLogger) hashSeed(seed string) string {
	return hashSeed(seed)
}

// sanitizeContext removes sensitive data from context maps
func (sl *SecurityLogger) sanitizeContext(context map[string]interface{}) map[string]interface{} {
	if context == nil {
		return nil
	}

	sanitized := make(map[string]interface{})
	for key, value := range context {
		switch key {
		case "secret", "acting_secret", "other_secret", "host_secret", "joined_secret":
			// Hash secrets instead of logging them
			if strVal, ok := value.(string); ok {
				sanitized[key+"_hash"] = sl.hashSeed(strVal)
			} else {
				sanitized[key+"_hash"] = fmt.Sprintf("non_string_value_%T", value)
			}
		case "token", "authorization", "password", "jwt_secret", "api_key":
			// Never log these
			sanitized[key] = "[REDACTED]"
		default:
			sanitized[key] = value
		}
	}

	return sanitized
}

// LogSystemStartup logs system startup information
func (sl *SecurityLogger) LogSystemStartup(addr string, config map[string]interface{}) {
	sanitizedConfig := sl.sanitizeContext(config)

	sl.logger.Printf(
		"system_startup addr=%s config=%+v engine_version=%s git_commit=%s build_time=%s timestamp=%s",
		addr,
		sanitizedConfig,
		EngineVersion,
		GitCommit,
		BuildTime,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// LogSystemShutdown logs system shutdown information
func (sl *SecurityLogger) LogSystemShutdown(reason string, uptime time.Duration) {
	sl.logger.Printf(
		"system_shutdown reason=%s uptime=%v engine_version=%s timestamp=%s",
		reason,
		uptime,
		EngineVersion,
		time.Now().UTC().Format(time.RFC3339),
	)
}

// hashSeed creates a SHA256 hash of a secret for logging purposes
func hashSeed(seed string) string {
	if seed == "" {
		return "empty"
	}
	hash := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(hash[:])[:16] // First 16 chars for brevity
}
