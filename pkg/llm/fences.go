package llm

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// StripFences removes a surrounding markdown code fence, if any. Providers
// routinely fence JSON answers even when told not to.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
