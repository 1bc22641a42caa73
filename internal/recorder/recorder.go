// Package recorder handles the rendezvous with the external recording
// process. The lifecycle signals recording start and stop through marker
// files in a shared directory and blocks during the stop protocol until
// the recorder confirms it has closed the episode's output.
//
// Markers for episode n:
//
//	episode_n.recording  written by this process at Begin
//	episode_n.stop       written by this process at End
//	episode_n.done       written by the external recorder once output is closed
package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/berrycraft/mirrorpeer/internal/logging"
)

// Recorder is the signal interface the episode lifecycle consumes.
// End must not return success before closure is confirmed.
type Recorder interface {
	// Begin signals that recording for the episode should start.
	Begin(ctx context.Context, episode int) error
	// End signals the end of recording and blocks until the external
	// recorder confirms closure or ctx is done.
	End(ctx context.Context, episode int) error
}

// Nop is used when recording is disabled. Begin and End succeed
// immediately.
type Nop struct{}

// Begin implements Recorder.
func (Nop) Begin(context.Context, int) error { return nil }

// End implements Recorder.
func (Nop) End(context.Context, int) error { return nil }

// Watched signals the external recorder through marker files and confirms
// closure by watching for the recorder's done marker.
type Watched struct {
	dir string
	log *logging.Logger
}

// NewWatched creates a Watched recorder using the given marker directory.
func NewWatched(dir string, log *logging.Logger) *Watched {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Watched{dir: dir, log: log}
}

func (w *Watched) marker(episode int, kind string) string {
	return filepath.Join(w.dir, fmt.Sprintf("episode_%d.%s", episode, kind))
}

// Begin writes the recording marker for the episode.
func (w *Watched) Begin(_ context.Context, episode int) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create recorder directory: %w", err)
	}
	path := w.marker(episode, "recording")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return fmt.Errorf("write recording marker: %w", err)
	}
	w.log.Info("recording started", "episode", episode, "marker", path)
	return nil
}

// End writes the stop marker and blocks until the recorder's done marker
// appears or ctx is done. The watch is established before the existence
// check so a done marker created in between is not missed.
func (w *Watched) End(ctx context.Context, episode int) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch recorder directory: %w", err)
	}

	stopPath := w.marker(episode, "stop")
	if err := os.WriteFile(stopPath, nil, 0644); err != nil {
		return fmt.Errorf("write stop marker: %w", err)
	}
	w.log.Info("recording stop signaled", "episode", episode)

	donePath := w.marker(episode, "done")
	if _, err := os.Stat(donePath); err == nil {
		return nil
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed before closure confirmation")
			}
			if event.Name == donePath && event.Op.Has(fsnotify.Create|fsnotify.Write) {
				w.log.Info("recording closure confirmed", "episode", episode)
				return nil
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed before closure confirmation")
			}
			w.log.Warn("recorder watch error", "error", werr.Error())
		case <-ctx.Done():
			return fmt.Errorf("awaiting recorder closure for episode %d: %w", episode, ctx.Err())
		}
	}
}
