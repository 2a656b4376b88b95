package harness

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"

	"spihal/config"
)

// WatchConfig reloads the fault-injection settings whenever the
// configuration file changes, so a running harness can be steered
// mid-test. The returned stop function releases the watcher.
func (s *Server) WatchConfig(path string) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := config.Load(path)
				if err != nil {
					slog.Warn("harness: config reload failed", "path", path, "err", err)
					continue
				}
				s.ApplyFaults(cfg.Harness.Faults)
				slog.Info("harness: fault settings reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("harness: config watcher", "err", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
