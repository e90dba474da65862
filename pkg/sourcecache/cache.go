// Package sourcecache caches source files as ordered lines of text for
// annotated disassembly. The cache lives for the process so repeated fault
// reports do not re-read the same files. It is best-effort state: a missing
// file degrades annotation, never the diagnostic itself.
package sourcecache

import (
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxFiles bounds the cache so a report spanning many sources cannot
// hold the whole tree in memory.
const DefaultMaxFiles = 512

type Cache struct {
	logger log.Logger
	files  *lru.Cache[string, []string]
}

func New(logger log.Logger, maxFiles int) *Cache {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	files, _ := lru.New[string, []string](maxFiles)
	return &Cache{logger: logger, files: files}
}

// Lines returns the file's lines, 1-based via index+1, reading and caching
// the file on first use. Read failures are not cached; a file that appears
// later will be picked up by the next report.
func (c *Cache) Lines(path string) ([]string, bool) {
	if lines, ok := c.files.Get(path); ok {
		return lines, true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		level.Debug(c.logger).Log("msg", "source file unavailable", "path", path, "err", err)
		return nil, false
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	c.files.Add(path, lines)
	return lines, true
}
