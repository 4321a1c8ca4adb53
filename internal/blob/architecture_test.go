package blob

import (
	"strings"
	"testing"

	"aquawatch/testutil"
)

func infraBlobImport(path string) bool {
	return path == "aquawatch/internal/infra/blob" || strings.HasPrefix(path, "aquawatch/internal/infra/blob/")
}

// Consumers of object storage depend on blob.Store and get drivers from Open.
func TestConsumersUseBlobEntryPoint(t *testing.T) {
	for _, dir := range []string{
		"../archive",
		"../api",
		"../app",
		"../recheck",
		"../../cmd/aquawatch",
		"../../cmd/aquawatch-recheck",
	} {
		t.Run(dir, func(t *testing.T) {
			testutil.AssertNoDirectImports(t, dir, infraBlobImport, "blob drivers are reached through internal/blob")
		})
	}
}
