package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrTimeout         ErrorCode = "operation_timeout"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Hardware errors
	ErrSensorFault   ErrorCode = "sensor_fault"
	ErrActuatorFault ErrorCode = "actuator_fault"
	ErrResetFailed   ErrorCode = "actuator_reset_failed"

	// Control loop errors
	ErrLoopFatal   ErrorCode = "loop_fatal"
	ErrLoopStarted ErrorCode = "loop_already_started"
	ErrLoopStopped ErrorCode = "loop_stopped"

	// Observer errors
	ErrPublishFailed ErrorCode = "publish_failed"
	ErrInitMetrics   ErrorCode = "init_metrics_failed"
	ErrRecordMetrics ErrorCode = "record_metrics_failed"
	ErrCloseMetrics  ErrorCode = "close_metrics_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:        "Internal error occurred",
	ErrInvalidArgument: "Invalid argument provided",
	ErrUnavailable:     "Service unavailable",
	ErrTimeout:         "Operation timed out",
	ErrAlreadyRunning:  "Another instance is already running",
	ErrInvalidConfig:   "Invalid configuration",
	ErrReadConfig:      "Failed to read configuration",
	ErrBindFlags:       "Failed to bind flags",
	ErrInvalidInterval: "Invalid interval value",
	ErrInvalidLogLevel: "Invalid log level",
	ErrInitFailed:      "Initialization failed",
	ErrShutdownFailed:  "Shutdown failed",
	ErrSensorFault:     "Sensor fault",
	ErrActuatorFault:   "Actuator fault",
	ErrResetFailed:     "Failed to reset actuators",
	ErrLoopFatal:       "Control loop stopped after repeated faults",
	ErrLoopStarted:     "Control loop already started",
	ErrLoopStopped:     "Control loop is stopped",
	ErrPublishFailed:   "Failed to publish message",
	ErrInitMetrics:     "Failed to initialize duty journal",
	ErrRecordMetrics:   "Failed to record duty journal entry",
	ErrCloseMetrics:    "Failed to close duty journal",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
