// Package rawlog keeps the human readable, append only record of every
// candidate message received from devices, parsed or not.
package rawlog

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vuuvv/errors"
)

const (
	entryLayout  = "02/01/2006, 03:04:05 pm"
	markerLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Writer appends entries to a single file. Safe for concurrent use; entries
// from one caller land in call order.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	loc  *time.Location
	path string
}

// Open crea o reabre el archivo y escribe la marca de inicio de la corrida.
func Open(path string, loc *time.Location, now time.Time) (*Writer, error) {
	if loc == nil {
		loc = time.Local
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "rawlog: create dir %s", dir)
		}
	}

	existed := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		existed = false
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "rawlog: open %s", path)
	}

	header := "=== GPS Server Started at " + now.UTC().Format(markerLayout) + " ===\n\n"
	if existed {
		header = "\n" + header
	}
	if _, err := f.WriteString(header); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "rawlog: write start marker")
	}
	return &Writer{f: f, loc: loc, path: path}, nil
}

func (w *Writer) Path() string { return w.path }

// Append writes "<local timestamp>\n<text>\n\n".
func (w *Writer) Append(text string, at time.Time) error {
	entry := at.In(w.loc).Format(entryLayout) + "\n" + text + "\n\n"

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return errors.New("rawlog: writer closed")
	}
	if _, err := w.f.WriteString(entry); err != nil {
		return errors.Wrap(err, "rawlog: append")
	}
	return nil
}

// Close escribe la marca de parada y cierra el archivo.
func (w *Writer) Close(now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	_, werr := w.f.WriteString("\n=== Server Stopped at " + now.UTC().Format(markerLayout) + " ===\n")
	cerr := w.f.Close()
	w.f = nil
	if werr != nil {
		return errors.Wrap(werr, "rawlog: write stop marker")
	}
	if cerr != nil {
		return errors.Wrap(cerr, "rawlog: close")
	}
	return nil
}
