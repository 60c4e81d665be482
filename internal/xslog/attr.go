package xslog

import (
	"log/slog"
	"time"
)

const keyError = "error"

func Error(err error) slog.Attr {
	return slog.String(keyError, err.Error())
}

func Count(count int) slog.Attr {
	const countKey = "count"
	return slog.Int(countKey, count)
}

func Duration(duration time.Duration) slog.Attr {
	const durationKey = "duration"
	return slog.Duration(durationKey, duration)
}

func Timestamp(t time.Time) slog.Attr {
	const timestampKey = "timestamp"
	return slog.Time(timestampKey, t)
}

func WeightKG(kg float64) slog.Attr {
	const weightKey = "weight_kg"
	return slog.Float64(weightKey, kg)
}

func SourceID(id string) slog.Attr {
	const sourceIDKey = "source_id"
	return slog.String(sourceIDKey, id)
}

func RunID(id string) slog.Attr {
	const runIDKey = "run_id"
	return slog.String(runIDKey, id)
}

func File(name string) slog.Attr {
	const fileKey = "file"
	return slog.String(fileKey, name)
}

func Attempt(n int) slog.Attr {
	const attemptKey = "attempt"
	return slog.Int(attemptKey, n)
}
