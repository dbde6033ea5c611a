package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"cardscan/internal/catalog"
	"cardscan/internal/crop"
	"cardscan/internal/identify"
	"cardscan/internal/imageio"
	"cardscan/internal/match"
	"cardscan/internal/ocr"
)

// settleDelay is how long a new file must stay quiet before it is treated
// as fully written. Phone sync tools write images in several chunks.
const settleDelay = 2 * time.Second

// Watch processes one language folder continuously: every settled
// front/back pair of new photos is cropped and identified as it arrives.
// Blocks until ctx is cancelled.
func (r *Runner) Watch(ctx context.Context, lang catalog.Language) error {
	dir := filepath.Join(r.setDir, "raw", string(lang))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log.Info("watching for new photos", "dir", dir)

	var reader identify.NumberReader
	if r.opts.UseOCR {
		engine, err := ocr.NewEngine()
		if err != nil {
			log.Warn("OCR unavailable in watch mode", "error", err)
		} else {
			defer engine.Close()
			reader = engine
		}
	}
	var ranker identify.Ranker
	if r.opts.UseMatch {
		matcher := match.NewMatcher(r.cfg.Match)
		defer matcher.Close()
		ranker = matcher
	}
	ident := identify.New(r.cfg.Thresholds, r.cfg.NumberRegion(r.setCode), lang,
		r.opts, reader, ranker, r.prompter)
	cropper := crop.New(r.cfg.Crop)

	pending := map[string]time.Time{}
	var settled []string
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("watch stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !imageio.IsSupportedFormat(event.Name) {
				continue
			}
			pending[event.Name] = time.Now()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", "error", err)

		case now := <-ticker.C:
			for name, last := range pending {
				if now.Sub(last) >= settleDelay {
					settled = append(settled, name)
					delete(pending, name)
				}
			}
			sort.Strings(settled)
			for len(settled) >= 2 {
				pair := Pair{Front: settled[0], Back: settled[1]}
				settled = settled[2:]
				if err := r.processPair(ident, cropper, lang, pair); err != nil {
					log.Warn("card failed", "front", pair.Front, "error", err)
				}
			}
		}
	}
}
