// Package watcher turns filesystem activity into task runs. Each active
// watch row gets a recursive fsnotify watch; a debounced burst of change
// events produces one synthetic manual task carrying the touched paths.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
)

// Launcher starts a run for a task. Implemented by the runner.
type Launcher interface {
	Launch(ctx context.Context, task *store.Task, trigger string)
}

// Service supervises one goroutine per active watch.
type Service struct {
	store    *store.Store
	events   bus.EventPublisher
	launcher Launcher
	debounce time.Duration

	mu      sync.Mutex
	active  map[int64]context.CancelFunc
	baseCtx context.Context
}

func New(st *store.Store, events bus.EventPublisher, launcher Launcher, cfg *config.Config) *Service {
	debounce := time.Duration(cfg.Tasks.WatchDebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Service{
		store:    st,
		events:   events,
		launcher: launcher,
		debounce: debounce,
		active:   make(map[int64]context.CancelFunc),
	}
}

// Run starts loops for every active watch and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	watches, err := s.store.ListWatches(ctx, 0, store.WatchActive)
	if err != nil {
		return fmt.Errorf("load watches: %w", err)
	}
	for i := range watches {
		s.start(&watches[i])
	}
	<-ctx.Done()
	return ctx.Err()
}

// AddWatch validates the path, persists the watch, and starts watching.
func (s *Service) AddWatch(ctx context.Context, w *store.Watch) error {
	clean, err := ValidatePath(w.Path)
	if err != nil {
		return err
	}
	w.Path = clean
	if w.ActionPrompt == "" {
		return errs.New(errs.KindInvalidInput, "watch needs an action prompt")
	}
	if err := s.store.CreateWatch(ctx, w); err != nil {
		return err
	}
	s.start(w)
	return nil
}

// PauseWatch stops delivery without forgetting the watch.
func (s *Service) PauseWatch(ctx context.Context, id int64) error {
	if err := s.store.SetWatchStatus(ctx, id, store.WatchPaused); err != nil {
		return err
	}
	s.stop(id)
	return nil
}

func (s *Service) ResumeWatch(ctx context.Context, id int64) error {
	if err := s.store.SetWatchStatus(ctx, id, store.WatchActive); err != nil {
		return err
	}
	w, err := s.store.GetWatch(ctx, id)
	if err != nil || w == nil {
		return err
	}
	s.start(w)
	return nil
}

func (s *Service) RemoveWatch(ctx context.Context, id int64) error {
	if err := s.store.DeleteWatch(ctx, id); err != nil {
		return err
	}
	s.stop(id)
	return nil
}

func (s *Service) start(w *store.Watch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx == nil {
		return // Run not started yet; the startup scan will pick it up
	}
	if _, ok := s.active[w.ID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.active[w.ID] = cancel
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, w.ID)
			s.mu.Unlock()
		}()
		if err := s.watchLoop(ctx, w); err != nil && ctx.Err() == nil {
			slog.Warn("watcher.loop_exited", "watch", w.ID, "path", w.Path, "error", err)
		}
	}()
}

func (s *Service) stop(id int64) {
	s.mu.Lock()
	cancel, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// watchLoop owns one fsnotify watcher. Directories created under the root
// are registered as they appear so the watch stays recursive.
func (s *Service) watchLoop(ctx context.Context, w *store.Watch) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer fw.Close()

	if err := addRecursive(fw, w.Path); err != nil {
		return err
	}

	changed := make(map[string]struct{})
	var flush <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op.Has(fsnotify.Create) {
				// Possibly a new directory; extend the watch into it.
				if err := addRecursive(fw, ev.Name); err != nil {
					slog.Debug("watcher.extend_failed", "path", ev.Name, "error", err)
				}
			}
			changed[ev.Name] = struct{}{}
			flush = time.After(s.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Debug("watcher.event_error", "watch", w.ID, "error", err)
		case <-flush:
			paths := drain(changed)
			flush = nil
			s.fire(ctx, w, paths)
		}
	}
}

// fire converts one quiescent burst into a single-run manual task.
func (s *Service) fire(ctx context.Context, w *store.Watch, paths []string) {
	current, err := s.store.GetWatch(ctx, w.ID)
	if err != nil || current == nil || current.Status != store.WatchActive {
		return
	}
	if err := s.store.TouchWatch(ctx, w.ID); err != nil {
		slog.Warn("watcher.touch_failed", "watch", w.ID, "error", err)
	}

	name := current.Description
	if name == "" {
		name = filepath.Base(current.Path)
	}
	task := &store.Task{
		RoomID:      current.RoomID,
		Name:        fmt.Sprintf("watch: %s", name),
		Prompt:      firePrompt(current.ActionPrompt, paths),
		TriggerType: store.TriggerManual,
		Status:      store.TaskActive,
		MaxRuns:     1,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		slog.Error("watcher.task_create_failed", "watch", w.ID, "error", err)
		return
	}
	s.launcher.Launch(ctx, task, store.TriggerManual)

	if s.events != nil {
		s.events.Broadcast(bus.Event{Name: bus.EventWatchTriggered, RoomID: current.RoomID, Payload: w.ID})
	}
	if err := s.store.AppendActivity(ctx, &store.Activity{
		RoomID:    current.RoomID,
		EventType: "watch",
		Summary:   fmt.Sprintf("watch %q fired (%d paths changed)", name, len(paths)),
	}); err != nil {
		slog.Debug("watcher.activity_failed", "watch", w.ID, "error", err)
	}
}

func firePrompt(action string, paths []string) string {
	var sb strings.Builder
	sb.WriteString(action)
	sb.WriteString("\n\nChanged paths:\n")
	for _, p := range paths {
		sb.WriteString("- ")
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	return sb.String()
}

func addRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			slog.Debug("watcher.add_failed", "path", path, "error", err)
		}
		return nil
	})
}

func drain(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
		delete(set, p)
	}
	sort.Strings(out)
	return out
}
