package logging

import (
	"strings"

	"github.com/pingcap/errors"
)

type LogFormat int

const (
	ColorizedOutput LogFormat = iota
	PlaintextOutput
	JSONOutput
)

// ParseFormat maps a configuration value onto a LogFormat. The empty
// string selects the colorized console default.
func ParseFormat(s string) (LogFormat, error) {
	switch strings.ToLower(s) {
	case "", "colorized":
		return ColorizedOutput, nil
	case "plaintext", "text":
		return PlaintextOutput, nil
	case "json":
		return JSONOutput, nil
	}
	return ColorizedOutput, errors.Errorf("unknown log format %q", s)
}
