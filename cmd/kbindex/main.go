// Package main maintains the local knowledge-base index. Documents live
// under a docs directory, one subdirectory per collection; each .md or
// .txt file becomes one indexed document.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fsnotify/fsnotify"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/opsdesk/scenario/internal/kb"
)

// CLI defines the command-line interface.
type CLI struct {
	Build BuildCmd `cmd:"" help:"Index all documents under a docs directory"`
	Watch WatchCmd `cmd:"" help:"Index, then re-index on file changes"`
}

// BuildCmd indexes the docs tree once.
type BuildCmd struct {
	Docs  string `arg:"" help:"Docs directory (one subdirectory per collection)"`
	Index string `default:"kb.bleve" help:"Index path"`
}

// WatchCmd keeps the index in sync with the docs tree.
type WatchCmd struct {
	Docs     string        `arg:"" help:"Docs directory (one subdirectory per collection)"`
	Index    string        `default:"kb.bleve" help:"Index path"`
	Debounce time.Duration `default:"500ms" help:"Delay before re-indexing after a change"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("kbindex"),
		kong.Description("Knowledge-base index maintenance."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (c *BuildCmd) Run() error {
	index, err := kb.OpenLocalIndex(c.Index)
	if err != nil {
		return err
	}
	defer index.Close()

	n, err := indexDocs(index, c.Docs)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d documents from %s\n", n, c.Docs)
	return nil
}

func (c *WatchCmd) Run() error {
	logger := logging.New().WithComponent("kbindex")

	index, err := kb.OpenLocalIndex(c.Index)
	if err != nil {
		return err
	}
	defer index.Close()

	if n, err := indexDocs(index, c.Docs); err != nil {
		return err
	} else {
		logger.Info("initial index built", map[string]interface{}{"documents": n})
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the docs root and every collection subdirectory.
	if err := watcher.Add(c.Docs); err != nil {
		return err
	}
	entries, err := os.ReadDir(c.Docs)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := watcher.Add(filepath.Join(c.Docs, e.Name())); err != nil {
				return err
			}
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var timer *time.Timer
	reindex := make(chan struct{}, 1)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New collection directories join the watch set.
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
				}
			}
			// Debounce rapid saves.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(c.Debounce, func() {
				select {
				case reindex <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", map[string]interface{}{"error": err.Error()})
		case <-reindex:
			n, err := indexDocs(index, c.Docs)
			if err != nil {
				logger.Error("re-index failed", map[string]interface{}{"error": err.Error()})
				continue
			}
			logger.Info("re-indexed", map[string]interface{}{"documents": n})
		case <-stop:
			return nil
		}
	}
}

// indexDocs walks the docs tree. The first path element under root is
// the collection name.
func indexDocs(index *kb.LocalIndex, root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 2 {
			// Files directly under root have no collection.
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		doc := kb.Document{
			Collection: parts[0],
			Source:     filepath.Base(path),
			Text:       string(data),
		}
		if err := index.Index(filepath.ToSlash(rel), doc); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}
