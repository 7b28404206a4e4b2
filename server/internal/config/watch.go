package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the config file and the .env file for changes and calls
// onChange with the newly loaded Config after each write. Either path may be
// empty. It runs until ctx is cancelled.
//
// The parent directories are watched rather than the files so that atomic
// saves (write to temp, rename over) are seen. If a reload fails the error
// is logged and onChange is not called.
func Watch(ctx context.Context, configPath, envPath string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("server config: watch: %w", err)
	}
	defer watcher.Close()

	targets := make(map[string]bool, 2)
	for _, p := range []string{configPath, envPath} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("server config: watch %q: %w", p, err)
		}
		targets[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("server config: watch %q: %w", p, err)
		}
	}
	if len(targets) == 0 {
		<-ctx.Done()
		return nil
	}

	envAbs := ""
	if envPath != "" {
		envAbs, _ = filepath.Abs(envPath)
	}

	slog.Info("config: watching for changes", "config", configPath, "env", envPath)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name, _ := filepath.Abs(event.Name)
			if !targets[name] {
				continue
			}

			if name == envAbs {
				if err := LoadEnvFile(envPath, true); err != nil {
					slog.Error("config: env reload failed, keeping previous config", "path", envPath, "err", err)
					continue
				}
			}

			cfg, err := Load(configPath)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config", "path", name, "err", err)
				continue
			}

			slog.Info("config: reloaded", "path", name)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
