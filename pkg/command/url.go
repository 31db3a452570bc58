package command

import "regexp"

// httpURLPattern matches the first plain http(s) URL inside a command
// argument. Chat clients tend to wrap pasted links in markdown such as
// [text](url), so extraction works on a substring match rather than on
// the whole argument.
var httpURLPattern = regexp.MustCompile(`https?://[\w./:\-$&#]+`)

// FindHTTPURL extracts the first http or https URL from s.
func FindHTTPURL(s string) (string, bool) {
	m := httpURLPattern.FindString(s)
	return m, m != ""
}
