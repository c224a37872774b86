// Package ftlog provides the relocation engine's structured logging,
// pretty-printing of sizes and durations, and progress/ETA reporting.
package ftlog

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relocatefs/fstransform/pkg/extent"
)

// Logger wraps a zap logger with the leveled helpers the engine's call
// sites use, plus domain-specific pretty-printers.
type Logger struct {
	z *zap.Logger
}

// New builds a production-configured Logger. verbose raises the level
// to debug so extent-map tracing is emitted; otherwise only info and
// above are logged.
func New(verbose bool) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger { return &Logger{z: zap.NewNop()} }

func (l *Logger) Sync() error { return l.z.Sync() }

func (l *Logger) Notice(msg string, fields ...zap.Field) { l.z.Info(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)   { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)   { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field)  { l.z.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field)  { l.z.Fatal(msg, fields...) }
func (l *Logger) Debug(msg string, fields ...zap.Field)  { l.z.Debug(msg, fields...) }

// PrettySize formats a byte count the way an operator expects to read
// it, picking the largest unit that keeps the mantissa >= 1.
func PrettySize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KiB", "MiB", "GiB", "TiB", "PiB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// PrettyDuration formats a duration the way an operator expects to read
// an ETA: seconds below a minute, otherwise minutes and seconds.
func PrettyDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Round(time.Second).Seconds()))
	}
	mins := int(d / time.Minute)
	secs := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%dm%02ds", mins, secs)
}

// Progress tracks work completed against a fixed total and estimates
// time remaining, mirroring the engine's percent-complete formula:
// 1 - (devUsed + 0.875*storageUsed) / workTotal.
type Progress struct {
	WorkTotal uint64
	started   time.Time
	now       func() time.Time
}

// NewProgress starts a Progress tracker against workTotal blocks.
func NewProgress(workTotal uint64) *Progress {
	return &Progress{WorkTotal: workTotal, started: time.Now(), now: time.Now}
}

// Fraction returns the completed fraction in [0,1] given the current
// device-side and storage-side used block counts.
func (p *Progress) Fraction(devUsed, storageUsed uint64) float64 {
	if p.WorkTotal == 0 {
		return 1
	}
	remaining := float64(devUsed) + 0.875*float64(storageUsed)
	frac := 1 - remaining/float64(p.WorkTotal)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return frac
}

// ETA estimates remaining time by linear extrapolation from elapsed
// time and the completed fraction. Returns 0 once fraction reaches 1.
func (p *Progress) ETA(fraction float64) time.Duration {
	if fraction <= 0 {
		return 0
	}
	if fraction >= 1 {
		return 0
	}
	elapsed := p.now().Sub(p.started)
	total := time.Duration(float64(elapsed) / fraction)
	return total - elapsed
}

// ShowProgress logs a single progress line the way the engine reports
// at each phase boundary of the main relocation loop.
func (l *Logger) ShowProgress(p *Progress, devUsed, storageUsed uint64) {
	frac := p.Fraction(devUsed, storageUsed)
	eta := p.ETA(frac)
	l.Notice("relocation progress",
		zap.Float64("percent", frac*100),
		zap.String("eta", PrettyDuration(eta)),
		zap.Uint64("dev_used", devUsed),
		zap.Uint64("storage_used", storageUsed),
	)
}

// ShowMap logs a debug-level trace of a named extent map's contents,
// mirroring the engine's verbose extent-map dumps after each planning
// step.
func (l *Logger) ShowMap(label string, m *extent.Map) {
	for _, e := range m.Entries() {
		l.Debug(label,
			zap.Uint64("physical", e.Physical),
			zap.Uint64("logical", e.Logical),
			zap.Uint64("length", e.Length),
			zap.String("tag", e.Tag.String()),
		)
	}
}
