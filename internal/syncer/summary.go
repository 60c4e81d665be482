package syncer

import (
	"fmt"
	"strings"
	"time"

	"github.com/amariano/bodysync/internal/uploader"
)

// Summary is the user-facing result of one run. It is always produced,
// even when the run aborts partway.
type Summary struct {
	RunID  string
	DryRun bool

	MailAttachments int
	Malformed       int
	Input           int
	SkippedExisting int
	Mismatched      int
	Deleted         int

	WouldUpload int

	Uploaded   int
	Duplicates int
	Failed     int
	Aborted    int
	Failures   []uploader.Result

	Duration time.Duration
}

func (s *Summary) apply(report *uploader.Report) {
	s.Uploaded = report.Count(uploader.OutcomeUploaded)
	s.Duplicates = report.Count(uploader.OutcomeDuplicate)
	s.Failed = report.Count(uploader.OutcomeFailed)
	s.Aborted = report.Count(uploader.OutcomeAborted)
	s.Failures = report.Failures()
}

// Ok reports whether the run completed without permanent record failures.
func (s *Summary) Ok() bool {
	return s.Failed == 0 && s.Aborted == 0
}

func (s *Summary) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%d record(s) in batch", s.Input)
	if s.Malformed > 0 {
		fmt.Fprintf(&b, ", %d malformed record(s) dropped", s.Malformed)
	}
	b.WriteString("\n")

	if s.DryRun {
		fmt.Fprintf(&b, "dry run: %d record(s) would be uploaded, %d already present\n",
			s.WouldUpload, s.SkippedExisting)
		return b.String()
	}

	fmt.Fprintf(&b, "uploaded %d, already present %d, failed %d",
		s.Uploaded, s.SkippedExisting+s.Duplicates, s.Failed)
	if s.Aborted > 0 {
		fmt.Fprintf(&b, ", aborted %d", s.Aborted)
	}
	if s.Deleted > 0 {
		fmt.Fprintf(&b, ", deleted %d remote entr(ies)", s.Deleted)
	}
	fmt.Fprintf(&b, " in %s\n", s.Duration.Round(time.Millisecond))

	for _, f := range s.Failures {
		fmt.Fprintf(&b, "  %s (%0.1f kg): %s", f.Record.Timestamp.Format(time.RFC3339), f.Record.WeightKG, f.Reason)
		if f.Err != nil {
			fmt.Fprintf(&b, ": %v", f.Err)
		}
		b.WriteString("\n")
	}

	return b.String()
}
