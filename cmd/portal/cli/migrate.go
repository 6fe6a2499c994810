package cli

import (
	"fmt"
	"io"
	"os"
)

// Migrator applies or rolls back the schema.
type Migrator interface {
	Up() error
	Down() error
}

// MigrateCommand runs direction ("up" when empty, or "down") and returns the
// process exit code.
func MigrateCommand(m Migrator, direction string, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	var err error
	switch direction {
	case "", "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		_, _ = fmt.Fprintf(stderr, "migrate: unknown direction %q (expected up or down)\n", direction)
		return 1
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate %s: %v\n", direction, err)
		return 1
	}
	return 0
}
