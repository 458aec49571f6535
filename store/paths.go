package store

import (
	"fmt"
	"sync"

	"github.com/tchap/go-patricia/v2/patricia"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/pathtemplate"
	"github.com/JustMaier/groundDb/internal/schema"
)

// pathIndex is the in-memory path-uniqueness trie backing invariant I1,
// so on_conflict checks are O(prefix lookup) rather than a system-index
// scan on every write (spec §4.1 **[ADD]**).
type pathIndex struct {
	mu   sync.Mutex
	trie *patricia.Trie
}

func newPathIndex() *pathIndex {
	return &pathIndex{trie: patricia.NewTrie()}
}

func (p *pathIndex) exists(relPath string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trie.Get(patricia.Prefix(relPath)) != nil
}

func (p *pathIndex) add(relPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trie.Insert(patricia.Prefix(relPath), true)
}

func (p *pathIndex) remove(relPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trie.Delete(patricia.Prefix(relPath))
}

// templateCache parses each collection's path template once, since
// schema.Collection only stores the raw template string.
type templateCache struct {
	mu    sync.Mutex
	cache map[string]*pathtemplate.Template
}

func newTemplateCache() *templateCache {
	return &templateCache{cache: map[string]*pathtemplate.Template{}}
}

func (c *templateCache) get(coll *schema.Collection) (*pathtemplate.Template, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.cache[coll.Name]; ok {
		return t, nil
	}
	t, err := pathtemplate.Parse(coll.Path)
	if err != nil {
		return nil, err
	}
	c.cache[coll.Name] = t
	return t, nil
}

// resolvePath renders a collection's path template and applies
// on_conflict, per spec §4.7 step 4.
func (s *Store) resolvePath(coll *schema.Collection, fields map[string]interface{}) (string, error) {
	tmpl, err := s.templates.get(coll)
	if err != nil {
		return "", err
	}
	rendered, err := tmpl.Render(fields)
	if err != nil {
		return "", err
	}
	if !s.paths.exists(rendered) {
		return rendered, nil
	}
	switch coll.ID.OnConflict {
	case schema.OnConflictSuffix:
		for i := 2; ; i++ {
			candidate := suffixPath(rendered, i)
			if !s.paths.exists(candidate) {
				return candidate, nil
			}
		}
	default:
		return "", grounddb.Errorf(grounddb.PathConflictErr, "path %q already exists", rendered)
	}
}

// resolvePathForUpdate re-renders a collection's path template during an
// update; if the rendered path differs from currentPath this is a move,
// so the conflict check must ignore currentPath itself (it is about to
// be vacated).
func (s *Store) resolvePathForUpdate(coll *schema.Collection, fields map[string]interface{}, currentPath string) (string, error) {
	tmpl, err := s.templates.get(coll)
	if err != nil {
		return "", err
	}
	rendered, err := tmpl.Render(fields)
	if err != nil {
		return "", err
	}
	if rendered == currentPath {
		return rendered, nil
	}
	if !s.paths.exists(rendered) {
		return rendered, nil
	}
	switch coll.ID.OnConflict {
	case schema.OnConflictSuffix:
		for i := 2; ; i++ {
			candidate := suffixPath(rendered, i)
			if candidate == currentPath || !s.paths.exists(candidate) {
				return candidate, nil
			}
		}
	default:
		return "", grounddb.Errorf(grounddb.PathConflictErr, "path %q already exists", rendered)
	}
}

func suffixPath(p string, n int) string {
	ext := ""
	base := p
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '.' {
			ext = p[i:]
			base = p[:i]
			break
		}
		if p[i] == '/' {
			break
		}
	}
	return fmt.Sprintf("%s-%d%s", base, n, ext)
}
