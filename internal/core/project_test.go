package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitAndDiscoverProject(t *testing.T) {
	root := t.TempDir()
	project, err := InitProject(root, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if project.DBPath != filepath.Join(root, StoreDirName, StoreFileName) {
		t.Fatalf("unexpected db path: %s", project.DBPath)
	}
	data, err := os.ReadFile(filepath.Join(root, StoreDirName, ".gitignore"))
	if err != nil {
		t.Fatalf("read gitignore: %v", err)
	}
	if !strings.Contains(string(data), "*.db-wal") {
		t.Fatalf("expected gitignore entries, got %q", data)
	}

	_, err = DiscoverProject(root)
	var noStore *NoStoreError
	if !errors.As(err, &noStore) || !errors.Is(err, ErrNoStore) {
		t.Fatalf("expected no-store error before the store file exists, got %v", err)
	}
	if noStore.Dir != project.StoreDir() {
		t.Fatalf("expected error to name %s, got %q", project.StoreDir(), noStore.Dir)
	}
	if err := os.WriteFile(project.DBPath, nil, 0o644); err != nil {
		t.Fatalf("touch store: %v", err)
	}

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	found, err := DiscoverProject(nested)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if found.DBPath != project.DBPath {
		t.Fatalf("expected %s, got %s", project.DBPath, found.DBPath)
	}

	if _, err := InitProject(root, false); err == nil {
		t.Fatal("expected second init without force to fail")
	}
	if _, err := InitProject(root, true); err != nil {
		t.Fatalf("force init: %v", err)
	}
	if _, err := os.Stat(project.DBPath); !os.IsNotExist(err) {
		t.Fatalf("expected force to remove the store file, got %v", err)
	}
}

func TestProjectFromStorePath(t *testing.T) {
	root := t.TempDir()
	project, err := ProjectFromStorePath(filepath.Join(root, StoreDirName, StoreFileName))
	if err != nil {
		t.Fatalf("from path: %v", err)
	}
	if project.Root != root {
		t.Fatalf("expected root %s, got %s", root, project.Root)
	}
}

func TestDiscoverSkipsEmptyStoreDir(t *testing.T) {
	root := t.TempDir()
	project, err := InitProject(root, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := os.WriteFile(project.DBPath, nil, 0o644); err != nil {
		t.Fatalf("touch store: %v", err)
	}

	// A nested .mailroom without a store file does not shadow the outer one.
	nested := filepath.Join(root, "sub")
	if err := os.MkdirAll(filepath.Join(nested, StoreDirName), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	found, err := DiscoverProject(nested)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if found.Root != root || found.DBPath != project.DBPath {
		t.Fatalf("expected outer project, got %+v", found)
	}
}

func TestDiscoverWithoutStoreDir(t *testing.T) {
	start := t.TempDir()
	_, err := DiscoverProject(start)
	var noStore *NoStoreError
	if !errors.As(err, &noStore) {
		t.Fatalf("expected no-store error, got %v", err)
	}
	if noStore.Start != start {
		t.Fatalf("expected start %s, got %s", start, noStore.Start)
	}
	if !strings.Contains(err.Error(), "mailroom init") {
		t.Fatalf("expected init hint, got %q", err.Error())
	}
}

func TestLocateProject(t *testing.T) {
	root := t.TempDir()
	project, err := InitProject(root, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := os.WriteFile(project.DBPath, nil, 0o644); err != nil {
		t.Fatalf("touch store: %v", err)
	}

	fromDir, err := LocateProject(root)
	if err != nil {
		t.Fatalf("locate dir: %v", err)
	}
	if fromDir.DBPath != project.DBPath {
		t.Fatalf("expected %s, got %s", project.DBPath, fromDir.DBPath)
	}

	file := filepath.Join(t.TempDir(), "other.db")
	fromFile, err := LocateProject(file)
	if err != nil {
		t.Fatalf("locate file: %v", err)
	}
	if fromFile.DBPath != file || fromFile.StoreExists() {
		t.Fatalf("expected missing store file %s, got %+v", file, fromFile)
	}
}

func TestProjectFromStorePathRejectsDirectory(t *testing.T) {
	if _, err := ProjectFromStorePath(t.TempDir()); err == nil {
		t.Fatal("expected a directory to be rejected as a store path")
	}
}
