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

package log

import (
	"io"
	"sync"
	"time"
)

type writerOutput struct {
	w        io.Writer
	lock     sync.Mutex
	timeFmt  string
	noTime   bool
	isClosed bool
}

// WriterOutput builds an Output that writes "time [debug] msg\n" lines
// (the time is left out when noTime is set, "[debug] " appears only on
// debug lines)
// to an arbitrary io.Writer. It is what every worker uses for its
// error_log file descriptor (spec §4.I: opened before drop-privs).
func WriterOutput(w io.Writer, noTime bool) Output {
	return &writerOutput{w: w, timeFmt: "2006-01-02T15:04:05.000Z07:00", noTime: noTime}
}

func (wo *writerOutput) Write(t time.Time, debug bool, s string) {
	wo.lock.Lock()
	defer wo.lock.Unlock()
	if wo.isClosed {
		return
	}

	if !wo.noTime {
		wo.w.Write([]byte(t.Format(wo.timeFmt)))
		wo.w.Write([]byte{' '})
	}
	if debug {
		wo.w.Write([]byte("[debug] "))
	}
	wo.w.Write([]byte(s))
	wo.w.Write([]byte{'\n'})
}

func (wo *writerOutput) Close() error {
	wo.lock.Lock()
	defer wo.lock.Unlock()
	wo.isClosed = true
	if c, ok := wo.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// multiOutput fans a single log line out to several Outputs. Nothing in
// this repository constructs one; MultiOutput is the public
// constructor.
type multiOutput []Output

func MultiOutput(outs ...Output) Output {
	return multiOutput(outs)
}

func (m multiOutput) Write(t time.Time, debug bool, s string) {
	for _, o := range m {
		o.Write(t, debug, s)
	}
}

func (m multiOutput) Close() error {
	var firstErr error
	for _, o := range m {
		if err := o.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
