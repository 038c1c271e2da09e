package blend

import "fmt"

// ConfigError reports an invalid blend configuration or a layer that could
// not be resolved at construction.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("blend config: %v", e.Err)
	}
	return fmt.Sprintf("blend config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErrorf(field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// CodecError reports a decode, filter, composite or encode failure. The
// request cannot produce a trustworthy tile. Layer is -1 for output stages.
type CodecError struct {
	Stage string
	Layer int
	Err   error
}

func (e *CodecError) Error() string {
	if e.Layer < 0 {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s layer %d: %v", e.Stage, e.Layer, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}
