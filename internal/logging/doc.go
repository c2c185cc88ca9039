// Package logging wraps log/slog with per-module levels and the outputs
// framecast needs.
//
// Call Initialize once at startup, then fetch loggers by module name:
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"egress": "debug"},
//	})
//	log := logging.GetLogger("egress")
//	log.Info("Encoder started", "pid", pid)
//
// Loggers obtained before Initialize keep their outputs but follow the
// configured levels. SetLevels adjusts levels at runtime; the config
// watcher calls it on reload.
//
// Every record goes to up to three outputs: stdout (text or JSON) when it
// is connected, the systemd journal when journald is listening, and an
// in-memory ring buffer that backs GET /api/logs/stream. Attributes become
// journal fields, so `journalctl -t framecast MODULE=streams` filters by
// module.
//
// Attributes whose key looks like a credential (stream_key, password,
// token and similar) are replaced with [REDACTED] before reaching any
// output. Ingest URLs should still go through ffmpeg.RedactURL, since the
// key is embedded in the path.
//
// In a config file, module levels sit next to the global ones:
//
//	[logging]
//	level = "info"
//	format = "json"
//	streams = "debug"
package logging
