// Package mask hides sensitive values before they leave the process in log
// lines or failure records.
package mask

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// String masks a string by replacing everything past the midpoint with
// asterisks.
func String(s string) string {
	l := len(s)
	if l == 0 {
		return s
	}
	if l == 1 {
		return "*"
	}
	h := l / 2
	return s[0:h] + strings.Repeat("*", l-h)
}

// URL returns a masked version of the URL string, hiding credentials, path
// and query values while keeping scheme and host readable.
func URL(urlString string) (string, error) {
	u, err := url.Parse(urlString)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse URL")
	}
	var str strings.Builder
	str.WriteString(u.Scheme)
	str.WriteString("://")
	if u.User != nil {
		str.WriteString(String(u.User.Username()))
		if pass, ok := u.User.Password(); ok {
			str.WriteString(":")
			str.WriteString(String(pass))
		}
		str.WriteString("@")
	}
	str.WriteString(u.Host)
	if p := u.Path; p != "" && p != "/" {
		str.WriteString("/")
		if len(p) > 1 && p[0] == '/' {
			str.WriteString(String(p[1:]))
		}
	}
	var qs []string
	for k, v := range u.Query() {
		qs = append(qs, fmt.Sprintf("%s=%s", k, String(strings.Join(v, ","))))
	}
	sort.Strings(qs)
	if len(qs) > 0 {
		str.WriteString("?")
		str.WriteString(strings.Join(qs, "&"))
	}
	return str.String(), nil
}

// Email masks the local part and domain of an email address.
func Email(val string) string {
	tok := strings.Split(val, "@")
	dot := strings.Split(tok[1], ".")
	return String(tok[0]) + "@" + String(dot[0]) + "." + strings.Join(dot[1:], ".")
}

var isURL = regexp.MustCompile(`^(\w+)://`)
var isEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
var isJWT = regexp.MustCompile(`^[a-zA-Z0-9-_]+\.[a-zA-Z0-9-_]+\.[a-zA-Z0-9-_]+$`)

// Value masks the argument when it looks like something sensitive (a URL,
// an email address or a JWT) and otherwise returns it unchanged.
func Value(arg string) string {
	switch {
	case isURL.MatchString(arg):
		if u, err := URL(arg); err == nil {
			return u
		}
		return String(arg)
	case isEmail.MatchString(arg):
		return Email(arg)
	case isJWT.MatchString(arg):
		return String(arg)
	}
	return arg
}

// Secret is a string that prints masked. Formatting with %s, %v or %#v never
// reveals the value; use Text to read it back.
type Secret string

// Text returns the unmasked value.
func (s Secret) Text() string {
	return string(s)
}

// String implements fmt.Stringer to return a masked representation.
func (s Secret) String() string {
	if len(s) == 0 {
		return ""
	}
	return String(string(s))
}

// MarshalText implements encoding.TextMarshaler for masked text output.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// GoString implements fmt.GoStringer so %#v also prints masked.
func (s Secret) GoString() string {
	return s.String()
}
