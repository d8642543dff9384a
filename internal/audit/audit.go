// Package audit writes the per-run report of processed messages.
package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/lu-zhengda/quotemail/internal/atomicfile"
	"github.com/lu-zhengda/quotemail/internal/domain"
	"github.com/lu-zhengda/quotemail/internal/reply"
)

// Header is the first row of the report.
var Header = []string{"sender", "subject", "requestedItems", "requestedPrices", "isAllowedDomain", "hasMatch"}

// None marks an empty item or price list in the report.
const None = "FALSE"

// Sink persists all records of a run in one call.
type Sink interface {
	Write(records []domain.AuditRecord) error
	// Path names the report location for logs and the run summary.
	Path() string
}

// CSVSink writes the report as CSV. The file is replaced atomically, so a
// reader never sees a partially written report.
type CSVSink struct {
	fs   afero.Fs
	path string
}

func NewCSVSink(fs afero.Fs, path string) *CSVSink {
	return &CSVSink{fs: fs, path: path}
}

func (s *CSVSink) Path() string { return s.path }

func (s *CSVSink) Write(records []domain.AuditRecord) error {
	err := atomicfile.WriteFile(s.fs, s.path, 0o644, func(w io.Writer) error {
		return Encode(w, records)
	})
	if err != nil {
		return fmt.Errorf("failed to write audit report: %w", err)
	}
	return nil
}

// Encode writes the header and one row per record.
func Encode(w io.Writer, records []domain.AuditRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(Row(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Row renders one record in report column order.
func Row(r domain.AuditRecord) []string {
	return []string{
		r.Sender,
		r.Subject,
		joinOrNone(r.ItemNames),
		joinPrices(r.Prices),
		strconv.FormatBool(r.DomainTrusted),
		strconv.FormatBool(r.HasMatch),
	}
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return None
	}
	return strings.Join(values, ", ")
}

func joinPrices(prices []float64) string {
	out := make([]string, len(prices))
	for i, p := range prices {
		out[i] = reply.FormatPrice(p)
	}
	return joinOrNone(out)
}
