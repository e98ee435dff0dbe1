package logger

import (
	"fmt"
	"time"
)

// OperationLogger logs the start, steps and outcome of a timed operation
// such as processing one settlement file.
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
	now       func() time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	ol := &OperationLogger{
		logger:    logger,
		operation: operation,
		fields:    make(Fields),
		now:       time.Now,
	}
	ol.startTime = ol.now()

	ol.logger.WithField("operation", operation).Debug("Starting operation")
	return ol
}

// WithField adds a field to the operation context
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

func (ol *OperationLogger) entry(extra Fields) Logger {
	fields := Fields{"operation": ol.operation}
	for k, v := range ol.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return ol.logger.WithFields(fields)
}

// Step logs a step within the operation
func (ol *OperationLogger) Step(step string) {
	ol.entry(Fields{"step": step}).Debug("Operation step")
}

// Pages logs progress through a paged submission.
func (ol *OperationLogger) Pages(done, total int) {
	fields := Fields{"page": done, "pages": total}
	if total > 0 {
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(done)/float64(total)*100)
	}
	ol.entry(fields).Debug("Page submitted")
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.entry(Fields{
		"duration": ol.now().Sub(ol.startTime).String(),
		"status":   "success",
	}).Info(message)
}

// Error completes the operation with an error
func (ol *OperationLogger) Error(err error, message string) {
	ol.entry(Fields{
		"duration": ol.now().Sub(ol.startTime).String(),
		"status":   "error",
	}).WithError(err).Error(message)
}

// Warning logs a warning during the operation
func (ol *OperationLogger) Warning(message string) {
	ol.entry(nil).Warn(message)
}
