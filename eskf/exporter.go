package eskf

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"
)

// ExportHeaders names the exported quantities, in error state order. Attitude and mount are
// exported as roll, pitch and yaw.
var ExportHeaders = []string{
	"x", "y", "z",
	"vx", "vy", "vz",
	"roll", "pitch", "yaw",
	"dx", "dy", "dz",
	"bax", "bay", "baz",
	"mroll", "mpitch", "myaw",
}

// Exporter defines an export interface.
type Exporter interface {
	Write(t float64, x NominalState, P mat.Symmetric) error
	Close() error
}

// CSVExporter writes the nominal state and its 2σ bounds as CSV.
type CSVExporter struct {
	delimiter string
	w         io.Writer
}

// NewCSVExporter creates filename in dir and writes the header.
func NewCSVExporter(dir, filename string) (*CSVExporter, error) {
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return nil, err
	}
	e, err := NewCSVWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return e, nil
}

// NewCSVWriter returns an exporter writing to w. The writer is closed by Close if it is an io.Closer.
func NewCSVWriter(w io.Writer) (*CSVExporter, error) {
	e := &CSVExporter{",", w}
	hdr := []string{"t"}
	for _, h := range ExportHeaders {
		hdr = append(hdr, h, h+"+2s", h+"-2s")
	}
	if err := e.WriteRawLn(fmt.Sprintf("# Creation date (UTC): %s", time.Now().UTC())); err != nil {
		return nil, err
	}
	if err := e.WriteRawLn(strings.Join(hdr, e.delimiter)); err != nil {
		return nil, err
	}
	return e, nil
}

// Write writes the state at time t with the 2σ bounds taken from the diagonal of P.
func (e *CSVExporter) Write(t float64, x NominalState, P mat.Symmetric) error {
	if err := checkDims(P, "P", ErrorStateSize, ErrorStateSize); err != nil {
		return err
	}
	roll, pitch, yaw := EulerFromQuat(x.Attitude)
	mroll, mpitch, myaw := EulerFromQuat(x.Mount)
	var state []float64
	state = append(state, vecValues(x.Position)...)
	state = append(state, vecValues(x.Velocity)...)
	state = append(state, roll, pitch, yaw)
	state = append(state, vecValues(x.Disturbance)...)
	state = append(state, vecValues(x.AccelBias)...)
	state = append(state, mroll, mpitch, myaw)

	vals := make([]string, 0, 1+3*len(state))
	vals = append(vals, fmt.Sprintf("%f", t))
	for i, v := range state {
		covar := 2 * math.Sqrt(math.Max(P.At(i, i), 0))
		vals = append(vals, fmt.Sprintf("%f", v), fmt.Sprintf("%f", covar), fmt.Sprintf("%f", -covar))
	}
	return e.WriteRawLn(strings.Join(vals, e.delimiter))
}

// WriteRawLn writes a raw line to the CSV file.
func (e *CSVExporter) WriteRawLn(s string) error {
	_, err := io.WriteString(e.w, s+"\n")
	return err
}

// Close writes the closing date and closes the underlying writer.
func (e *CSVExporter) Close() error {
	if err := e.WriteRawLn(fmt.Sprintf("# Closing date (UTC): %s", time.Now().UTC())); err != nil {
		return err
	}
	if c, ok := e.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
