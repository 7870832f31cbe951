// Package bootcfg performs the idempotent boot configuration edit applied
// at install time: replace an existing key=value line or append one if
// absent. The generated postinst script mirrors this behavior for package
// installs; the local install command uses it directly.
package bootcfg

import (
	"fmt"
	"os"
	"strings"
)

// SetLine returns content with the first "key=..." line replaced by
// "key=value". If no such line exists, the assignment is appended as a
// new line. Calling it twice with the same arguments is a no-op.
func SetLine(content, key, value string) string {
	assignment := key + "=" + value
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), key+"=") {
			lines[i] = assignment
			return strings.Join(lines, "\n")
		}
	}

	out := content
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out + assignment + "\n"
}

// Update rewrites the boot config file at path with key=value set. A
// missing file is created holding just the assignment.
func Update(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read boot config: %w", err)
	}
	updated := SetLine(string(data), key, value)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("write boot config: %w", err)
	}
	return nil
}
