package pipeline

import (
	"fmt"
	"io"
	"path/filepath"
)

var summaryColumns = []any{"Filename", "Duration(s)", "Inference Time(s)", "Model Load Time(s)", "Scorer Load Time(s)"}

// WriteSummaryHeader prints the fixed-width column titles.
func WriteSummaryHeader(w io.Writer) error {
	_, err := fmt.Fprintf(w, "\n%-30s %-20s %-20s %-20s %s\n", summaryColumns...)
	return err
}

// WriteSummaryRow prints one file's row under WriteSummaryHeader.
func WriteSummaryRow(w io.Writer, s Summary) error {
	_, err := fmt.Fprintf(w, "%-30s %-20.3f %-20.3f %-20.3f %.3f\n",
		filepath.Base(s.File),
		s.AudioDuration.Seconds(),
		s.Inference.Seconds(),
		s.ModelLoad.Seconds(),
		s.ScorerLoad.Seconds(),
	)
	return err
}
