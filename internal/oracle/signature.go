package oracle

import (
	"regexp"
	"strings"
)

var exceptionRe = regexp.MustCompile(`(?m)^(?:Exception in thread "[^"]*" )?([\w$.]+(?:Exception|Error))\b`)

// fatalErrorMarker opens the banner the runtime prints before writing an
// hs_err crash file.
const fatalErrorMarker = "A fatal error has been detected by the Java Runtime Environment"

// environmentErrors are stderr fragments showing the cell never ran the
// program as intended: a broken classpath or an unsupported runtime option.
var environmentErrors = []string{
	"NoClassDefFoundError",
	"ClassNotFoundException",
	"UnsupportedClassVersionError",
	"NoSuchMethodError",
	"NoSuchFieldError",
	"IncompatibleClassChangeError",
	"Could not find or load main class",
	"Error: Could not create the Java Virtual Machine",
	"Unrecognized VM option",
}

// IsEnvironmentError reports whether stderr carries an environment error.
func IsEnvironmentError(stderr string) bool {
	for _, sig := range environmentErrors {
		if strings.Contains(stderr, sig) {
			return true
		}
	}
	return false
}

// Signature names the failure in stderr: the first exception class, or
// "fatal error" for a runtime crash, or "" when nothing is recognisable.
func Signature(stderr string) string {
	if strings.Contains(stderr, fatalErrorMarker) {
		return "fatal error"
	}
	if m := exceptionRe.FindStringSubmatch(stderr); m != nil {
		return m[1]
	}
	return ""
}
