package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/digkill/genstudio/internal/models"
)

type fileFormat struct {
	Plans map[models.PlanTier]Rule `yaml:"plans"`
}

// LoadFile reads a YAML price list. Plans the file does not mention keep their default rule.
func LoadFile(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	var parsed fileFormat
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse pricing file: %w", err)
	}

	rules := DefaultRules()
	for plan, rule := range parsed.Plans {
		rules[plan] = rule
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("validate pricing file: %w", err)
	}
	return rules, nil
}

// Watcher reloads a pricing file into a Table whenever it changes on disk.
type Watcher struct {
	path     string
	table    *Table
	log      *slog.Logger
	debounce time.Duration
}

func NewWatcher(path string, table *Table, log *slog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		table:    table,
		log:      log.With("component", "pricing.watcher"),
		debounce: 200 * time.Millisecond,
	}
}

// Run blocks until ctx is done. The parent directory is watched so editors that replace
// the file through a rename are still picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.log.Info("watching pricing file", "path", w.path)

	target := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("pricing watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	rules, err := LoadFile(w.path)
	if err != nil {
		w.log.Error("pricing reload failed, keeping previous rules", "err", err)
		return
	}
	if err := w.table.Replace(rules); err != nil {
		w.log.Error("pricing replace failed", "err", err)
		return
	}
	w.log.Info("pricing rules reloaded", "path", w.path)
}
