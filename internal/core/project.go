package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// StoreDirName is the per-project directory holding the store.
	StoreDirName = ".mailroom"
	// StoreFileName is the SQLite file inside StoreDirName.
	StoreFileName = "mailroom.db"
)

// ErrNoStore is returned when no store file can be found for a project.
var ErrNoStore = errors.New("no mailroom store")

// NoStoreError reports where discovery looked. Dir is set when a .mailroom
// directory exists but holds no store file.
type NoStoreError struct {
	Start string
	Dir   string
}

func (e *NoStoreError) Error() string {
	if e.Dir != "" {
		return fmt.Sprintf("%s has no %s. Run 'mailroom init' first", e.Dir, StoreFileName)
	}
	return fmt.Sprintf("no %s found above %s. Run 'mailroom init' first", StoreDirName, e.Start)
}

func (e *NoStoreError) Is(target error) bool {
	return target == ErrNoStore
}

// Project locates a mailroom store on disk.
type Project struct {
	Root   string
	DBPath string
}

// StoreDir returns the directory holding the store file.
func (p Project) StoreDir() string {
	return filepath.Dir(p.DBPath)
}

// StoreExists reports whether the store file is present.
func (p Project) StoreExists() bool {
	info, err := os.Stat(p.DBPath)
	return err == nil && info.Mode().IsRegular()
}

// DiscoverProject walks up from startDir to the nearest .mailroom/mailroom.db.
// A .mailroom directory without a store file does not stop the walk, so a
// nested uninitialized directory does not hide an enclosing project.
func DiscoverProject(startDir string) (Project, error) {
	start, err := absDir(startDir)
	if err != nil {
		return Project{}, err
	}

	notFound := &NoStoreError{Start: start}
	for current := start; ; {
		project := Project{Root: current, DBPath: filepath.Join(current, StoreDirName, StoreFileName)}
		if project.StoreExists() {
			return project, nil
		}
		if notFound.Dir == "" {
			if info, err := os.Stat(project.StoreDir()); err == nil && info.IsDir() {
				notFound.Dir = project.StoreDir()
			}
		}

		parent := filepath.Dir(current)
		if parent == current {
			return Project{}, notFound
		}
		current = parent
	}
}

// LocateProject resolves path to a project. An empty path discovers from the
// working directory, an existing directory discovers from that directory, and
// anything else names the store file itself.
func LocateProject(path string) (Project, error) {
	if path == "" {
		return DiscoverProject("")
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return DiscoverProject(path)
	}
	return ProjectFromStorePath(path)
}

// ProjectFromStorePath builds a Project for an explicit store file. The file
// need not exist yet.
func ProjectFromStorePath(dbPath string) (Project, error) {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return Project{}, err
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return Project{}, fmt.Errorf("store path %s is a directory", abs)
	}
	root := filepath.Dir(abs)
	if filepath.Base(root) == StoreDirName {
		root = filepath.Dir(root)
	}
	return Project{Root: root, DBPath: abs}, nil
}

func absDir(dir string) (string, error) {
	if dir == "" {
		return os.Getwd()
	}
	return filepath.Abs(dir)
}

// InitProject creates the .mailroom directory at dir. The store file itself is
// created when the database is first opened.
func InitProject(dir string, force bool) (Project, error) {
	root, err := absDir(dir)
	if err != nil {
		return Project{}, err
	}
	project := Project{Root: root, DBPath: filepath.Join(root, StoreDirName, StoreFileName)}

	if project.StoreExists() && !force {
		return Project{}, fmt.Errorf("%s already initialized. Use --force to reinitialize", root)
	}
	if err := os.MkdirAll(project.StoreDir(), 0o755); err != nil {
		return Project{}, err
	}
	EnsureStoreGitignore(project.StoreDir())

	if force {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(project.DBPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				return Project{}, err
			}
		}
	}
	return project, nil
}

// EnsureStoreGitignore ensures the store directory ignores sqlite files.
func EnsureStoreGitignore(storeDir string) {
	gitignore := filepath.Join(storeDir, ".gitignore")
	entries := []string{"*.db", "*.db-wal", "*.db-shm"}

	data, err := os.ReadFile(gitignore)
	if err != nil {
		_ = os.WriteFile(gitignore, []byte(strings.Join(entries, "\n")+"\n"), 0o644)
		return
	}
	content := string(data)

	lines := map[string]bool{}
	for _, line := range strings.Split(content, "\n") {
		lines[line] = true
	}

	var missing []string
	for _, entry := range entries {
		if !lines[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return
	}
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(missing, "\n") + "\n"
	_ = os.WriteFile(gitignore, []byte(content), 0o644)
}
