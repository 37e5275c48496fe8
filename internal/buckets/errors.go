package buckets

import "fmt"

// ErrConfiguration matches any *ConfigurationError via errors.Is.
var ErrConfiguration = &ConfigurationError{}

// ConfigurationError reports an invalid bucket selection or query setting.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Key != "" && e.Reason != "":
		return fmt.Sprintf("invalid configuration %q: %s", e.Key, e.Reason)
	case e.Key != "":
		return fmt.Sprintf("invalid configuration %q", e.Key)
	case e.Reason != "":
		return "invalid configuration: " + e.Reason
	}
	return "invalid configuration"
}

// Is implements errors.Is matching on type.
func (e *ConfigurationError) Is(target error) bool {
	_, ok := target.(*ConfigurationError)
	return ok
}
