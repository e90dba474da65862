package codeobject

import (
	"fmt"
	"strconv"
	"strings"
)

// URI is a parsed code object location of the form
// scheme://path[?|#param=value[&param=value...]].
//
// The runtime reports where a code object's bytes originate either as a
// filesystem path (file scheme) or as a region of the process's GPU-visible
// address space (memory scheme).
type URI struct {
	Scheme string
	Path   string
	Params map[string]string
}

// ParseURI splits a code object URI into scheme, percent-decoded path and a
// tag-value parameter table. Parameters live in the query or fragment part,
// separated by '&', with tag and value separated by '='. Tokens without '='
// are ignored.
func ParseURI(uri string) (URI, error) {
	const delim = "://"

	schemeEnd := strings.Index(uri, delim)
	if schemeEnd < 0 {
		return URI{}, fmt.Errorf("invalid uri %q: no scheme", uri)
	}
	scheme := strings.ToLower(uri[:schemeEnd])
	rest := uri[schemeEnd+len(delim):]

	path := rest
	var query string
	if pathEnd := strings.IndexAny(rest, "#?"); pathEnd >= 0 {
		path = rest[:pathEnd]
		query = rest[pathEnd+1:]
	}

	params := make(map[string]string)
	for _, token := range strings.Split(query, "&") {
		tag, value, found := strings.Cut(token, "=")
		if !found {
			continue
		}
		if _, ok := params[tag]; !ok {
			params[tag] = value
		}
	}

	return URI{
		Scheme: scheme,
		Path:   percentDecode(path),
		Params: params,
	}, nil
}

// percentDecode resolves %XX escapes in place. Malformed escapes are kept
// verbatim rather than rejected; the path is only ever used to open a file
// and a bad escape will surface there.
func percentDecode(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHexDigit(s[i+1]) && isHexDigit(s[i+2]) {
			v, _ := strconv.ParseUint(s[i+1:i+3], 16, 8)
			sb.WriteByte(byte(v))
			i += 2
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

// UintParam returns the named numeric parameter. The numeric base is
// auto-detected (0x hex, 0 octal, decimal otherwise). A missing parameter
// yields (0, false, nil); a malformed one yields an error.
func (u URI) UintParam(tag string) (uint64, bool, error) {
	value, ok := u.Params[tag]
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(value, 0, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s parameter %q: %w", tag, value, err)
	}
	return v, true, nil
}
