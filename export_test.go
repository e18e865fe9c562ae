package authclient

import "io"

// NewDefaultLogger exposes the fallback logger writing to w
func NewDefaultLogger(w io.Writer) Logger {
	return defLogger{out: w}
}
