package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// DefaultEphemeralDir is where final flow texts are materialized before a
// run. It is seeded with a catch-all .gitignore so generated files never
// reach version control or file watchers.
const DefaultEphemeralDir = ".reflow/tmp"

// writeEphemeralModule writes the final text to a freshly named file and
// returns its path plus a cleanup that removes it. Each run owns exactly one
// file; names carry a timestamp and random suffix so concurrent runs never
// collide. Failures quote a bounded prefix of the text, never enough to leak
// a full resolved secret set.
func writeEphemeralModule(dir, source string) (string, func(), error) {
	if dir == "" {
		dir = DefaultEphemeralDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, schema.NewErrorf(schema.ErrCodeSandbox,
			"create ephemeral dir %s: %v", dir, err)
	}
	gitignore := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignore); os.IsNotExist(err) {
		if err := os.WriteFile(gitignore, []byte("*\n"), 0o644); err != nil {
			return "", nil, schema.NewErrorf(schema.ErrCodeSandbox,
				"seed %s: %v", gitignore, err)
		}
	}

	name := fmt.Sprintf("flow_%d_%s.flow.ts",
		time.Now().UnixNano(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(source), 0o600); err != nil {
		return "", nil, schema.NewErrorf(schema.ErrCodeSandbox,
			"write ephemeral module %s: %v (text prefix: %s)", path, err, textPrefix(source, 300))
	}
	cleanup := func() { _ = os.Remove(path) }
	return path, cleanup, nil
}

// textPrefix bounds diagnostic quoting of generated text.
func textPrefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
