package cli

import (
	"os"
	"path/filepath"
	"strings"
)

// addToGitignore appends entry to the project's .gitignore unless present.
func addToGitignore(projectDir, entry string) error {
	path := filepath.Join(projectDir, ".gitignore")
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == entry {
			return nil
		}
	}

	text := string(content)
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	text += entry + "\n"
	return os.WriteFile(path, []byte(text), 0644)
}

// removeFromGitignore drops entry from the project's .gitignore. The file is
// left untouched when it is missing or would end up empty.
func removeFromGitignore(projectDir, entry string) error {
	path := filepath.Join(projectDir, ".gitignore")
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var kept []string
	for _, line := range strings.Split(strings.TrimRight(string(content), "\n"), "\n") {
		if strings.TrimSpace(line) != entry {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return os.WriteFile(path, []byte(strings.Join(kept, "\n")+"\n"), 0644)
}
