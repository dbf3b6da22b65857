package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/antibyte/brainterm/pkg/brainfuck"
	"github.com/antibyte/brainterm/pkg/logger"
)

// Entry describes one example program from the catalog manifest.
type Entry struct {
	Name     string `yaml:"name"`
	File     string `yaml:"file"`
	Synopsis string `yaml:"synopsis"`
	Credits  string `yaml:"credits,omitempty"`
}

// manifest models the catalog.yaml contents.
type manifest struct {
	Examples []Entry `yaml:"examples"`
}

// Catalog holds the example programs shipped with the server.
type Catalog struct {
	dir     string
	entries []Entry
	byName  map[string]Entry
}

// Load reads the catalog manifest and verifies that every referenced
// program file exists and lexes. Entry names are unique and case-insensitive.
func Load(manifestPath string) (*Catalog, error) {
	file, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog manifest: %w", err)
	}
	defer file.Close()

	var raw manifest
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog manifest %s: %w", manifestPath, err)
	}

	c := &Catalog{
		dir:    filepath.Dir(manifestPath),
		byName: make(map[string]Entry),
	}

	for i, entry := range raw.Examples {
		if entry.Name == "" {
			return nil, fmt.Errorf("catalog entry %d has no name", i)
		}
		if entry.File == "" {
			return nil, fmt.Errorf("catalog entry %q has no file", entry.Name)
		}
		// Manifest entries may only reference files next to the manifest
		if entry.File != filepath.Base(entry.File) {
			return nil, fmt.Errorf("catalog entry %q references a path outside the catalog directory", entry.Name)
		}
		key := strings.ToLower(entry.Name)
		if _, exists := c.byName[key]; exists {
			return nil, fmt.Errorf("duplicate catalog entry %q", entry.Name)
		}
		source, err := os.ReadFile(filepath.Join(c.dir, entry.File))
		if err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", entry.Name, err)
		}
		// Kaputte Beispiele sollen beim Start auffallen, nicht erst bei RUN
		program := brainfuck.Lex(string(source))
		if len(program) == 0 {
			return nil, fmt.Errorf("catalog entry %q contains no instructions", entry.Name)
		}
		if _, err := brainfuck.ResolveJumps(program); err != nil {
			return nil, fmt.Errorf("catalog entry %q is malformed: %w", entry.Name, err)
		}
		c.byName[key] = entry
		c.entries = append(c.entries, entry)
	}

	sort.Slice(c.entries, func(i, j int) bool {
		return strings.ToLower(c.entries[i].Name) < strings.ToLower(c.entries[j].Name)
	})

	logger.Info(logger.AreaCatalog, "Loaded %d example programs from %s", len(c.entries), manifestPath)
	return c, nil
}

// List returns all catalog entries sorted by name.
func (c *Catalog) List() []Entry {
	entries := make([]Entry, len(c.entries))
	copy(entries, c.entries)
	return entries
}

// Lookup finds a catalog entry by name, ignoring case.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	entry, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return entry, ok
}

// Source returns the program text of a catalog entry.
func (c *Catalog) Source(name string) (string, error) {
	entry, ok := c.Lookup(name)
	if !ok {
		return "", fmt.Errorf("no example named %q", name)
	}
	data, err := os.ReadFile(filepath.Join(c.dir, entry.File))
	if err != nil {
		return "", fmt.Errorf("failed to read example %q: %w", entry.Name, err)
	}
	return string(data), nil
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}
