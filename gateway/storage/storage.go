// Package storage appends readings to date-partitioned JSON Lines files.
package storage

import (
	"context"
	"encoding/json"
	stderr "errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eva00212/jetson/gateway/component"
	"github.com/eva00212/jetson/gateway/metrics"
	"github.com/eva00212/jetson/gateway/telemetry"
	"github.com/eva00212/jetson/internal/iso"
	"github.com/eva00212/jetson/internal/log"
	"github.com/eva00212/jetson/internal/wallclock"
	"github.com/eva00212/jetson/protocol/errors"
)

type (
	// Rotation selects how files are named.
	Rotation string

	// PartitionBy selects which time picks the daily file.
	PartitionBy string

	// Layout names the log files under the root.
	Layout struct {
		Rotation Rotation
		// Prefix is prepended to daily file names.
		Prefix string
		// SingleName is the file used by SingleFile rotation.
		SingleName string
	}

	// Config configures a Writer.
	Config struct {
		Root string
		Layout
		PartitionBy PartitionBy
	}

	// Writer appends one line per reading. Appends are serialized, and the
	// file is opened and closed around every write.
	Writer struct {
		mu        sync.Mutex
		root      string
		layout    Layout
		partition PartitionBy
		log       log.Logger
		metrics   *metrics.Metrics
	}
)

const (
	Daily      Rotation = "daily"
	SingleFile Rotation = "single"

	// PartitionReceived dates a reading by the gateway clock.
	PartitionReceived PartitionBy = "received"
	// PartitionTimestamp dates a reading by its own timestamp, falling back
	// to the gateway clock when that cannot be parsed.
	PartitionTimestamp PartitionBy = "timestamp"

	DefaultSingleName = "readings.jsonl"

	dateLayout = "2006-01-02"
	extension  = ".jsonl"
)

// Path returns the file that holds readings for the given instant. Daily
// files are named for the calendar date in the fixed UTC+9 zone.
func Path(date time.Time, root string, layout Layout) string {
	if layout.Rotation == SingleFile {
		name := layout.SingleName
		if name == "" {
			name = DefaultSingleName
		}
		return filepath.Join(root, name)
	}
	return filepath.Join(root,
		layout.Prefix+date.In(telemetry.Zone).Format(dateLayout)+extension)
}

// New validates the configuration. Nothing touches the filesystem until the
// first append.
func New(cfg Config, opt ...component.Option) (*Writer, error) {
	if cfg.Root == "" {
		return nil, invalid("Root", cfg.Root)
	}
	switch cfg.Rotation {
	case "":
		cfg.Rotation = Daily
	case Daily, SingleFile:
	default:
		return nil, invalid("Rotation", cfg.Rotation)
	}
	switch cfg.PartitionBy {
	case "":
		cfg.PartitionBy = PartitionReceived
	case PartitionReceived, PartitionTimestamp:
	default:
		return nil, invalid("PartitionBy", cfg.PartitionBy)
	}
	if filepath.Base(cfg.SingleName) != cfg.SingleName && cfg.SingleName != "" {
		return nil, invalid("SingleName", cfg.SingleName)
	}

	var opts component.Options
	opts.Apply(opt)

	return &Writer{
		root:      cfg.Root,
		layout:    cfg.Layout,
		partition: cfg.PartitionBy,
		log:       opts.Log("storage"),
		metrics:   opts.Metrics,
	}, nil
}

// Append writes the reading as one compact JSON line and syncs it to disk.
// On error the reading is lost; the writer stays usable.
func (w *Writer) Append(ctx context.Context, r telemetry.SensorReading) error {
	line, err := json.Marshal(r)
	if err != nil {
		return &errors.Error{
			Message:     "cannot serialize reading",
			Kind:        errors.PayloadInvalid,
			NestedError: err,
		}
	}
	line = append(line, '\n')

	w.mu.Lock()
	path := Path(w.date(r), w.root, w.layout)
	err = w.append(path, line)
	w.mu.Unlock()

	w.metrics.Persisted(err)
	if err != nil {
		w.log.Warn(ctx, err,
			slog.String("path", path),
			slog.String("device_id", r.DeviceID))
		return err
	}
	w.log.Debug(ctx, "reading persisted", slog.String("path", path))
	return nil
}

func (w *Writer) append(path string, line []byte) (err error) {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fsError("cannot create log directory", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fsError("cannot open log file", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fsError("cannot close log file", cerr)
		}
	}()

	if _, err := f.Write(line); err != nil {
		return fsError("cannot write log file", err)
	}
	if err := f.Sync(); err != nil {
		return fsError("cannot sync log file", err)
	}
	return nil
}

func (w *Writer) date(r telemetry.SensorReading) time.Time {
	if w.partition == PartitionTimestamp && r.Timestamp != telemetry.SentinelTimestamp {
		if t, err := iso.ParseDateTime(r.Timestamp); err == nil {
			return t
		}
	}
	return wallclock.Instance.Now()
}

func fsError(msg string, err error) error {
	var pe *os.PathError
	name := ""
	if stderr.As(err, &pe) {
		name = pe.Path
	}
	return &errors.Error{
		Message:       msg + ": " + err.Error(),
		Kind:          errors.ExecutionException,
		NestedError:   err,
		PropertyName:  "path",
		PropertyValue: name,
	}
}

func invalid(name string, value any) error {
	return &errors.Error{
		Message:       "invalid storage configuration",
		Kind:          errors.ConfigurationInvalid,
		PropertyName:  name,
		PropertyValue: value,
	}
}
