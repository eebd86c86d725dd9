// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteMetrics writes the report as Prometheus metrics in the text
// exposition format, for node_exporter's textfile collector. The file
// is replaced atomically.
func WriteMetrics(path string, report *Report, success bool) error {
	registry := prometheus.NewRegistry()

	gauge := func(name, help string, value float64) {
		collector := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floppy",
			Name:      name,
			Help:      help,
		})
		collector.Set(value)
		registry.MustRegister(collector)
	}

	successValue := 0.0
	if success {
		successValue = 1
	}
	gauge("last_run_success", "Whether the last archive run completed without errors.", successValue)
	gauge("last_run_timestamp_seconds", "Unix time the last archive run finished.", float64(report.Finished.UnixMilli())/1000)
	gauge("last_run_duration_seconds", "Duration of the last archive run.", report.Duration().Seconds())
	gauge("rooms", "Rooms archived by the last run.", float64(len(report.Rooms)))
	gauge("room_failures", "Rooms whose history could not be fetched completely.", float64(len(report.FailedRooms())))
	gauge("events", "Events archived by the last run.", float64(report.Events()))
	gauge("undecryptable_events", "Encrypted events archived without a usable key.", float64(report.Undecryptable))
	gauge("media_bytes", "Bytes of media written by the last run.", float64(report.Media.Bytes))

	media := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "floppy",
		Name:      "media",
		Help:      "Media references processed by the last run, by outcome.",
	}, []string{"status"})
	media.WithLabelValues(string(MediaDownloaded)).Set(float64(report.Media.Downloaded))
	media.WithLabelValues(string(MediaFailed)).Set(float64(report.Media.Failed))
	media.WithLabelValues(string(MediaSkipped)).Set(float64(report.Media.Skipped))
	registry.MustRegister(media)

	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
