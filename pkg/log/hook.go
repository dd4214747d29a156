package log

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// RedactHook scrubs credentials from log messages and string/error fields before they are written
type RedactHook struct{}

// Levels implements logrus.Hook
func (RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook
func (RedactHook) Fire(entry *logrus.Entry) error {
	entry.Message = utils.RedactSecrets(entry.Message)
	for k, v := range entry.Data {
		switch val := v.(type) {
		case string:
			entry.Data[k] = utils.RedactSecrets(val)
		case error:
			entry.Data[k] = redactedError{msg: utils.RedactSecrets(val.Error()), err: val}
		}
	}
	return nil
}

// redactedError keeps the original chain reachable while printing the scrubbed text
type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }
func (e redactedError) Unwrap() error { return errors.Unwrap(e.err) }
