package progress

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
)

// BarSink renders progress events as a terminal progress bar. Used by
// the interactive CLI mode; workers use the JSON sink instead.
type BarSink struct {
	description string
	bar         *progressbar.ProgressBar
	total       int
}

// NewBarSink creates a terminal progress bar sink.
func NewBarSink(description string) *BarSink {
	return &BarSink{description: description}
}

func (s *BarSink) Emit(e Event) error {
	if s.bar == nil || s.total != e.TotalDays {
		s.total = e.TotalDays
		s.bar = progressbar.NewOptions(e.TotalDays,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(s.description),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	if err := s.bar.Set(e.Day); err != nil {
		return err
	}
	if e.Day == e.TotalDays {
		fmt.Fprintln(os.Stderr)
	}
	return nil
}
