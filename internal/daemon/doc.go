// Package daemon runs docgallery in the background.
//
// The daemon watches an inbox directory for image files and adds them to
// one document, and it runs sync cycles on a cron schedule.
//
// # Architecture
//
//   - FileWatcher: fsnotify events for image files in the inbox
//   - Daemon: debounces events, imports files through an intake.Session,
//     moves them to inbox/imported or inbox/failed, and schedules syncs
//     with robfig/cron
//
// # Usage
//
//	cfg := daemon.DefaultConfig()
//	cfg.InboxDir = filepath.Join(dataDir, "inbox")
//	cfg.SyncSchedule = "@every 30m"
//
//	d, err := daemon.New(lib, syncer, cfg)
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is cancelled
//
// A scheduled sync that fires while another cycle runs is skipped.
package daemon
