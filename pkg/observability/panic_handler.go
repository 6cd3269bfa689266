package observability

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with the stack.
// It must be called directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "webhook handler", nil)
//
// onPanic, when set, runs after logging and only if a panic occurred.
func RecoverPanic(logger logrus.FieldLogger, context string, onPanic func(recovered interface{})) {
	if r := recover(); r != nil {
		logger.WithFields(logrus.Fields{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": context,
		}).Error("PANIC recovered")
		if onPanic != nil {
			onPanic(r)
		}
	}
}
