package api

// WatcherSource provides watch-mode state to the API layer. The ingest
// watcher implements it; api owns the interface so there is no import cycle.
type WatcherSource interface {
	// WatcherStatus returns the file watcher status, or nil if not active.
	WatcherStatus() *WatcherStatusData
}

// WatcherStatusData represents the status of the watch-mode file watcher.
type WatcherStatusData struct {
	Status         string `json:"status"` // "starting", "backfilling", "watching", "stopped"
	WatchDir       string `json:"watch_dir"`
	Pending        int    `json:"pending"`
	FilesProcessed int64  `json:"files_processed"`
	FilesFailed    int64  `json:"files_failed"`
	FilesSkipped   int64  `json:"files_skipped"`
}
