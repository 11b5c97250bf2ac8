package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
)

// CheckExisting checks if stage.yml or actors/ already exist in dir.
// Returns an error if they do, nil otherwise
func CheckExisting(dir string) error {
	var existingFiles []string

	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
		existingFiles = append(existingFiles, ConfigFile)
	}

	if info, err := os.Stat(filepath.Join(dir, ActorsDir)); err == nil && info.IsDir() {
		existingFiles = append(existingFiles, ActorsDir+"/")
	}

	if len(existingFiles) > 0 {
		errMsg := "stage already initialized\n\nFound existing"
		if len(existingFiles) == 1 {
			errMsg += fmt.Sprintf(": %s", existingFiles[0])
		} else {
			errMsg += " files:\n"
			for _, file := range existingFiles {
				errMsg += fmt.Sprintf("  - %s\n", file)
			}
		}
		errMsg += "\nUse 'troupe init --force' to reinitialize (this will overwrite existing configuration)"

		return fmt.Errorf("%s", errMsg)
	}

	return nil
}
