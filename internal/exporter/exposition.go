package exporter

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// ContentType is the media type of the text exposition format.
const ContentType = string(expfmt.FmtText)

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

// WriteExposition writes families in the text exposition format. The output
// is flushed on every return path. No families yields an empty document.
// Params: w destination; families sorted gathered families.
// Returns: encode or flush error.
func WriteExposition(w io.Writer, families []*dto.MetricFamily) (err error) {
	bw := bufio.NewWriter(w)
	defer func() {
		if flushErr := bw.Flush(); flushErr != nil && err == nil {
			err = fmt.Errorf("flush exposition: %w", flushErr)
		}
	}()

	for _, mf := range families {
		if len(mf.GetMetric()) == 0 {
			if err := writeFamilyHeader(bw, mf); err != nil {
				return fmt.Errorf("write family %s: %w", mf.GetName(), err)
			}
			continue
		}
		if _, err := expfmt.MetricFamilyToText(bw, mf); err != nil {
			return fmt.Errorf("write family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// writeFamilyHeader emits HELP and TYPE lines for a family without samples,
// which the expfmt encoder refuses to write.
// Params: w destination; mf family without samples.
// Returns: write error.
func writeFamilyHeader(w io.Writer, mf *dto.MetricFamily) error {
	if mf.Help != nil {
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n", mf.GetName(), helpEscaper.Replace(mf.GetHelp())); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "# TYPE %s %s\n", mf.GetName(), strings.ToLower(mf.GetType().String()))
	return err
}
