package alarm

import "fmt"

// ConfigurationError reports an alarm limit set that cannot be applied. The previous
// valid configuration stays in effect.
type ConfigurationError struct {
	Parameter string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	if e.Parameter == "" {
		return fmt.Sprintf("alarm configuration: %s", e.Reason)
	}
	return fmt.Sprintf("alarm configuration: parameter %q: %s", e.Parameter, e.Reason)
}
