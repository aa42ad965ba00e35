package files

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Checker resolves resource references against an identity's namespace.
// The validator uses it at admission time only; resources deleted after
// admission surface as render-time failures.
type Checker interface {
	Exists(resourceID, identity string) bool
	// Resolve returns the filesystem path for a resource, or "" when it
	// does not exist in the identity's namespace.
	Resolve(resourceID, identity string) string
}

// DirChecker maps resources to files under <root>/<identity>/<resourceID>.
// Each API identity owns its own subdirectory.
type DirChecker struct {
	root string
}

// NewDirChecker creates a checker rooted at the given upload directory
func NewDirChecker(root string) *DirChecker {
	return &DirChecker{root: root}
}

func (c *DirChecker) Exists(resourceID, identity string) bool {
	return c.Resolve(resourceID, identity) != ""
}

func (c *DirChecker) Resolve(resourceID, identity string) string {
	// Reject IDs that could escape the identity's namespace
	if resourceID == "" || strings.Contains(resourceID, "..") || strings.ContainsAny(resourceID, "/\\") {
		return ""
	}
	path := filepath.Join(c.root, identity, resourceID)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}

// MemChecker is an in-memory checker for tests
type MemChecker struct {
	mu        sync.RWMutex
	resources map[string]map[string]string // identity -> resourceID -> path
}

// NewMemChecker creates an empty in-memory checker
func NewMemChecker() *MemChecker {
	return &MemChecker{resources: make(map[string]map[string]string)}
}

// Add registers a resource for an identity
func (c *MemChecker) Add(resourceID, identity, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resources[identity] == nil {
		c.resources[identity] = make(map[string]string)
	}
	c.resources[identity][resourceID] = path
}

// Remove deletes a resource, simulating mid-flight deletion
func (c *MemChecker) Remove(resourceID, identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resources[identity], resourceID)
}

func (c *MemChecker) Exists(resourceID, identity string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.resources[identity][resourceID]
	return ok
}

func (c *MemChecker) Resolve(resourceID, identity string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resources[identity][resourceID]
}
