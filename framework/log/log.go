/*
authgate - composable email authentication gateway
Copyright © 2026 authgate contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package log implements the minimalistic structured logger used
// throughout the gateway.
//
// Every log line carries a logger Name (the component emitting it) and
// an optional queue_id-correlated Fields map so a single message can be
// grepped out of a worker's log by its MTA-assigned queue id.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/authgate/authgate/framework/exterrors"
	"go.uber.org/zap"
)

// Logger writes formatted output to the underlying Output.
//
// Logger is stateless and can be copied freely; the underlying Output
// is shared and must provide its own goroutine-safety.
type Logger struct {
	Out   Output
	Name  string
	Debug bool

	// Fields are merged into every message emitted through this Logger,
	// used to pin a Logger to one queue_id for the lifetime of a message.
	Fields map[string]interface{}
}

// Zap returns a *zap.Logger adapter so third-party libraries that want
// a zap.Logger (e.g. DNS or SMTP client libraries) can log through the
// same sink as the rest of the gateway.
func (l Logger) Zap() *zap.Logger {
	return zap.New(zapCore{L: l})
}

// WithQueueID returns a copy of l with queue_id pinned into Fields, so
// all subsequent messages from handlers processing the same message
// are automatically correlated (spec §4.C debug log callback).
func (l Logger) WithQueueID(queueID string) Logger {
	fields := make(map[string]interface{}, len(l.Fields)+1)
	for k, v := range l.Fields {
		fields[k] = v
	}
	if queueID != "" {
		fields["queue_id"] = queueID
	}
	l.Fields = fields
	return l
}

func (l Logger) Debugf(format string, val ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Debugln(val ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(strings.TrimRight(fmt.Sprintln(val...), "\n"), nil))
}

func (l Logger) Printf(format string, val ...interface{}) {
	l.log(false, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Println(val ...interface{}) {
	l.log(false, l.formatMsg(strings.TrimRight(fmt.Sprintln(val...), "\n"), nil))
}

// Msg writes a structured event message:
//
//	name: msg\t{"key":"value", ...}
//
// fields is a flat key/value pairs slice, e.g. Msg("pass", "method", "spf").
func (l Logger) Msg(msg string, fields ...interface{}) {
	m := make(map[string]interface{}, len(fields)/2)
	fieldsToMap(fields, m)
	l.log(false, l.formatMsg(msg, m))
}

// Error logs msg along with err, pulling in any exterrors.Fields carried
// by err (check name, reason, disposition) so the log line is self
// contained without needing to re-derive context from a stack trace.
func (l Logger) Error(msg string, err error, fields ...interface{}) {
	if err == nil {
		return
	}

	errFields := exterrors.Fields(err)
	allFields := make(map[string]interface{}, len(fields)+len(errFields)+2)
	for k, v := range errFields {
		allFields[k] = v
	}
	if allFields["reason"] == nil {
		allFields["reason"] = err.Error()
	}
	fieldsToMap(fields, allFields)

	l.log(false, l.formatMsg(msg, allFields))
}

func fieldsToMap(fields []interface{}, out map[string]interface{}) {
	var lastKey string
	for i, val := range fields {
		if i%2 == 0 {
			key, ok := val.(string)
			if !ok {
				out[fmt.Sprint("field", i)] = val
				continue
			}
			lastKey = key
		} else {
			out[lastKey] = val
		}
	}
}

func (l Logger) formatMsg(msg string, fields map[string]interface{}) string {
	b := strings.Builder{}
	b.WriteString(msg)
	b.WriteRune('\t')

	if len(l.Fields)+len(fields) != 0 {
		if fields == nil {
			fields = make(map[string]interface{})
		}
		for k, v := range l.Fields {
			if _, ok := fields[k]; !ok {
				fields[k] = v
			}
		}
		if err := marshalOrderedJSON(&b, fields); err != nil {
			return fmt.Sprintf("[broken log formatting: %v] %v %+v", err, msg, fields)
		}
	}
	return b.String()
}

// Write implements io.Writer; every write becomes a separate log line.
func (l Logger) Write(s []byte) (int, error) {
	l.log(false, strings.TrimRight(string(s), "\n"))
	return len(s), nil
}

func (l Logger) log(debug bool, s string) {
	if l.Name != "" {
		s = l.Name + ": " + s
	}
	if l.Out != nil {
		l.Out.Write(time.Now(), debug, s)
		return
	}
	if DefaultLogger.Out != nil {
		DefaultLogger.Out.Write(time.Now(), debug, s)
	}
}

// DefaultLogger is used by package-level helpers and as the fallback
// sink for any Logger constructed with a nil Out.
var DefaultLogger = Logger{Out: WriterOutput(os.Stderr, false)}

func Debugf(format string, val ...interface{}) { DefaultLogger.Debugf(format, val...) }
func Println(val ...interface{})               { DefaultLogger.Println(val...) }
func Printf(format string, val ...interface{}) { DefaultLogger.Printf(format, val...) }

// Output is the sink Logger writes formatted lines to.
type Output interface {
	io.Closer
	Write(t time.Time, debug bool, s string)
}
