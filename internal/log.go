// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package internal

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Package-wide logging, in the style of the standard log package but without
// timestamps cluttering progress output. Safe for concurrent use by the
// worker pools inside each stage's Step.
var logMutex sync.Mutex
var logWriters = []io.Writer{os.Stdout}

// LogAlsoToFile tees subsequent log output to the named file, in addition to stdout.
func LogAlsoToFile(fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	logMutex.Lock()
	logWriters = append(logWriters, f)
	logMutex.Unlock()
	return nil
}

// LogPrintf writes a formatted message to all registered log writers.
func LogPrintf(format string, args ...interface{}) {
	logMutex.Lock()
	defer logMutex.Unlock()
	for _, w := range logWriters {
		fmt.Fprintf(w, format, args...)
	}
}

// LogPrintln writes a line to all registered log writers.
func LogPrintln(args ...interface{}) {
	logMutex.Lock()
	defer logMutex.Unlock()
	for _, w := range logWriters {
		fmt.Fprintln(w, args...)
	}
}

// LogFatal logs the given values and terminates the process.
func LogFatal(args ...interface{}) {
	LogPrintln(args...)
	LogSync()
	os.Exit(1)
}

// LogFatalf logs the given formatted message and terminates the process.
func LogFatalf(format string, args ...interface{}) {
	LogPrintf(format, args...)
	LogSync()
	os.Exit(1)
}

// LogSync flushes any buffered log writers that support it.
func LogSync() {
	logMutex.Lock()
	defer logMutex.Unlock()
	for _, w := range logWriters {
		if f, ok := w.(*os.File); ok {
			f.Sync()
		}
	}
}
