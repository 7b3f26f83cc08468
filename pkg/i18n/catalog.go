package i18n

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/audittrail/pkg/observability"
)

// Catalog resolves message keys per domain for one locale
type Catalog struct {
	dir    string
	locale string
	logger *observability.Logger

	mu       sync.RWMutex
	messages map[string]map[string]string
}

// NewCatalog loads the built-in messages and, when dir is set, every
// <domain>.<locale>.yaml file in it
func NewCatalog(dir, locale string, logger *observability.Logger) (*Catalog, error) {
	if locale == "" {
		locale = "en"
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	c := &Catalog{
		dir:    dir,
		locale: locale,
		logger: logger.WithField("component", "i18n"),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Locale returns the catalog locale
func (c *Catalog) Locale() string {
	return c.locale
}

// Translate returns the message for key with %param% placeholders replaced.
// Unknown keys are returned unchanged.
func (c *Catalog) Translate(key string, params map[string]string, domain string) string {
	c.mu.RLock()
	msg, ok := c.messages[domain][key]
	c.mu.RUnlock()
	if !ok {
		msg = key
	}
	if len(params) == 0 {
		return msg
	}

	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}

// Reload rebuilds the catalog from defaults and the directory. On error the
// previous messages are kept.
func (c *Catalog) Reload() error {
	messages := defaults()

	if c.dir != "" {
		entries, err := os.ReadDir(c.dir)
		if err != nil {
			return fmt.Errorf("failed to read translations directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			domain, locale, ok := parseFileName(entry.Name())
			if !ok || locale != c.locale {
				continue
			}
			loaded, err := loadFile(filepath.Join(c.dir, entry.Name()))
			if err != nil {
				return err
			}
			if messages[domain] == nil {
				messages[domain] = make(map[string]string, len(loaded))
			}
			for k, v := range loaded {
				messages[domain][k] = v
			}
		}
	}

	c.mu.Lock()
	c.messages = messages
	c.mu.Unlock()
	return nil
}

// Watch reloads the catalog whenever a translation file changes. It blocks
// until ctx is cancelled.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.dir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}
	c.logger.Infof("Watching translations in %s", c.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if _, _, ok := parseFileName(filepath.Base(event.Name)); !ok {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.WithError(err).Error("Failed to reload translations")
				continue
			}
			c.logger.WithField("file", event.Name).Info("Translations reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.WithError(err).Warn("Translation watcher error")
		}
	}
}

// parseFileName splits "messages.en.yaml" into domain and locale
func parseFileName(name string) (domain, locale string, ok bool) {
	ext := filepath.Ext(name)
	if ext != ".yaml" && ext != ".yml" {
		return "", "", false
	}
	base := strings.TrimSuffix(name, ext)
	i := strings.LastIndex(base, ".")
	if i <= 0 || i == len(base)-1 {
		return "", "", false
	}
	return base[:i], base[i+1:], true
}

func loadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	out := make(map[string]string)
	flatten("", tree, out)
	return out, nil
}

// flatten turns nested keys into dotted ones: {entity: {create: x}} becomes
// entity.create. A scalar and a nested map may share a prefix.
func flatten(prefix string, tree map[string]any, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case nil:
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
