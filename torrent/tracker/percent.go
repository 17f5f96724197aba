package tracker

import "fmt"

// isSafeByte reports whether b passes through percent-encoding verbatim:
// ASCII alphanumerics and '-'.
func isSafeByte(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b == '-'
}

// percentEncode encodes data per RFC 3986, passing safe bytes through
// verbatim and escaping everything else as %XX (uppercase hex). This is
// used in place of net/url.QueryEscape, which escapes space as '+' and
// treats several bytes as safe that the tracker convention here does not.
func percentEncode(data []byte) string {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if isSafeByte(b) {
			out = append(out, b)
		} else {
			out = append(out, []byte(fmt.Sprintf("%%%02X", b))...)
		}
	}
	return string(out)
}
