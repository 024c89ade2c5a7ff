package train

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"beyondgd/internal/model"
)

// Reporter receives epoch reports. Reporting is observational: a reporter
// never changes the training state.
type Reporter interface {
	Report(r model.EpochReport) error
}

// Reporters fans a report out to every reporter and joins their errors.
type Reporters []Reporter

func (rs Reporters) Report(r model.EpochReport) error {
	var errs []error
	for _, reporter := range rs {
		if reporter == nil {
			continue
		}
		if err := reporter.Report(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LineReporter writes the human-readable progress line.
type LineReporter struct {
	W io.Writer
}

func (l LineReporter) Report(r model.EpochReport) error {
	_, err := io.WriteString(l.W, FormatReport(r)+"\n")
	return err
}

func subjectKey(r model.EpochReport, split string) string {
	subject := r.Subject
	if subject == "" {
		subject = "best"
	}
	return subject + "_" + split
}

// FormatReport renders r as
// [--- @NN: avg(train)=… best(train)=… best(dev)=… time(epoch)=… ---].
func FormatReport(r model.EpochReport) string {
	subject := r.Subject
	if subject == "" {
		subject = "best"
	}
	return fmt.Sprintf("[--- @%02d: \t avg(train)=%2.4f \t %s(train)=%2.4f \t %s(dev)=%2.4f \t time(epoch)=%s ---]",
		r.Epoch,
		r.AvgTrain,
		subject, r.BestTrain,
		subject, r.BestDev,
		time.Duration(r.DurationMS)*time.Millisecond,
	)
}

// LogReporter emits reports as structured log records.
type LogReporter struct {
	Logger *slog.Logger
}

func (l LogReporter) Report(r model.EpochReport) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("epoch report",
		"task", r.Task,
		"epoch", r.Epoch,
		"avg_train", r.AvgTrain,
		subjectKey(r, "train"), r.BestTrain,
		subjectKey(r, "dev"), r.BestDev,
		"duration_ms", r.DurationMS,
	)
	return nil
}

// Collector keeps every report in memory.
type Collector struct {
	mu      sync.Mutex
	reports []model.EpochReport
}

func (c *Collector) Report(r model.EpochReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func (c *Collector) Reports() []model.EpochReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.EpochReport(nil), c.reports...)
}
