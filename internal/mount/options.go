// Package mount holds small helpers shared by the CLI's mount wiring that
// don't belong in cmd itself.
package mount

import "strings"

// ParseOptions parses a comma-separated "-o" style option string such as
// "ro,allow_other,fsname=patchfs" into dst, splitting each "key=value" or
// bare "key" entry. Bare keys are recorded with an empty value, matching
// the convention mount(8) itself uses for boolean options.
func ParseOptions(dst map[string]string, s string) {
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if eq := strings.IndexByte(pair, '='); eq >= 0 {
			dst[pair[:eq]] = pair[eq+1:]
		} else {
			dst[pair] = ""
		}
	}
}
