// watch.go — Live reload of the project config file.
package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// Watch starts a goroutine that watches the project config file for
// changes and invokes onReload with the freshly loaded Config whenever
// it is written. Flag overrides passed at process start continue to
// take priority over the reloaded file values. Watch returns as soon as
// the goroutine is started, with an error only if the watcher fails to
// start; the goroutine runs until ctx is canceled. Reload errors are
// swallowed so a transient bad write to the config file does not take
// down the watcher goroutine.
func Watch(ctx context.Context, projectDir string, flags *FlagOverrides, onReload func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	path := projectDir + "/.lucent.yaml"
	// Best effort: the file may not exist yet. fsnotify on a directory
	// still reports writes to files created later with that name.
	_ = watcher.Add(projectDir)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(projectDir, flags)
				if err != nil {
					continue
				}
				onReload(cfg)
			case <-watcher.Errors:
			}
		}
	}()

	return nil
}
