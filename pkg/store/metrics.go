package store

import (
	"io/fs"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pawlink_messages_appended_total",
		Help: "Messages persisted to the conversation log.",
	})
	messagesMarkedRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pawlink_messages_marked_read_total",
		Help: "Messages transitioned from unread to read.",
	})
	historyScans = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pawlink_history_scans_total",
		Help: "Conversation history prefix scans served.",
	})
)

// Stats is a compact health view of the store used by readiness probes.
type Stats struct {
	DiskBytes uint64 `json:"disk_bytes"`
}

// GetStats returns best-effort size information about the pebble DB. It
// computes the on-disk size of the DB directory; zero when the store is
// not open.
func GetStats() Stats {
	var s Stats
	if db == nil || dbPath == "" {
		return s
	}
	_ = filepath.WalkDir(dbPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, ferr := d.Info(); ferr == nil {
			s.DiskBytes += uint64(fi.Size())
		}
		return nil
	})
	return s
}
