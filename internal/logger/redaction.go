package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// redactionRule replaces matches of re with repl, which may refer to
// capture groups so the surrounding key or prefix stays readable.
type redactionRule struct {
	name string
	re   *regexp.Regexp
	repl string
}

// Redactor masks secrets in log output.
type Redactor struct {
	rules []redactionRule
}

// NewRedactor returns a redactor with the default rules. A Telegram token
// keeps its bot id, which is public; only the secret half is masked.
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []redactionRule{
			{"telegram_token", regexp.MustCompile(`(\d{6,12}):[a-zA-Z0-9_-]{30,}`), "${1}:" + redacted},
			{"url_credentials", regexp.MustCompile(`(://[^/\s:@]*:)[^/\s@]+@`), "${1}" + redacted + "@"},
			{"bearer", regexp.MustCompile(`(Bearer\s+)[a-zA-Z0-9._-]+`), "${1}" + redacted},
			{"key_value", regexp.MustCompile(`((?i:password|pwd|secret|token)"?\s*[:=]\s*"?)[^\s",}]+`), "${1}" + redacted},
		},
	}
}

// AddPattern adds a rule that replaces every match of pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, redactionRule{name: "custom", re: re, repl: redacted})
	return nil
}

// Redact applies every rule to s in order.
func (r *Redactor) Redact(s string) string {
	for _, rule := range r.rules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return s
}

// Wrap returns a writer that redacts before writing to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since callers measure against their own input.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.writer, w.redactor.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
