// Package scaffold writes a starter stage.yml and example command actor into
// the current directory.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/troupe/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	// ConfigFile is the stage configuration written by Initialize.
	ConfigFile = "stage.yml"
	// ActorsDir holds example actor programs.
	ActorsDir = "actors"
)

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Template    string
	Permissions os.FileMode
}

var starterFiles = []FileInfo{
	{Path: ConfigFile, Template: "stage.yml.tmpl", Permissions: 0644},
	{Path: filepath.Join(ActorsDir, "narrator.sh"), Template: "narrator.sh.tmpl", Permissions: 0755},
	{Path: filepath.Join(ActorsDir, "README.md"), Template: "README.md.tmpl", Permissions: 0644},
}

// Initialize creates the starter stage in dir.
// If force is true, an existing stage.yml and actors/ directory are removed first.
func Initialize(dir string, force bool) error {
	if force {
		if err := handleForce(dir); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Join(dir, ActorsDir), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", ActorsDir, err)
	}

	for _, f := range starterFiles {
		content, err := templatesFS.ReadFile("templates/" + f.Template)
		if err != nil {
			return fmt.Errorf("failed to read %s template: %w", f.Template, err)
		}
		if err := os.WriteFile(filepath.Join(dir, f.Path), content, f.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}

	return validateCreatedFiles(dir)
}

// handleForce removes existing files if --force was specified
func handleForce(dir string) error {
	path := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("⚠️  Removing existing %s...\n", ConfigFile)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", ConfigFile, err)
		}
	}

	actors := filepath.Join(dir, ActorsDir)
	if info, err := os.Stat(actors); err == nil && info.IsDir() {
		fmt.Printf("⚠️  Removing existing %s/ directory...\n", ActorsDir)
		if err := os.RemoveAll(actors); err != nil {
			return fmt.Errorf("failed to remove %s/ directory: %w", ActorsDir, err)
		}
	}

	return nil
}

// validateCreatedFiles loads the written stage.yml through the same path
// `troupe run` uses.
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, ConfigFile)); err != nil {
		return fmt.Errorf("created %s is invalid: %w", ConfigFile, err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized a troupe stage!")
	fmt.Println("\nCreated:")
	for _, f := range starterFiles {
		fmt.Printf("  ✓ %s\n", filepath.ToSlash(f.Path))
	}
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add 'troupe.db' to your .gitignore file")
	fmt.Println("  2. Edit stage.yml to cast your own actors and scenes")
	fmt.Println("  3. Run 'troupe validate' to check the configuration")
	fmt.Println("  4. Run 'troupe run' to start the performance")
}
