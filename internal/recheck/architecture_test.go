package recheck

import (
	"testing"

	"aquawatch/testutil"
)

// The rechecker runs out of process and must not pull in the live session.
func TestRecheckDoesNotDependOnLiveSession(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.LiveSessionImportForbidden, "rechecker shares only the durable store")
	testutil.AssertNoTransitiveDependency(t, "aquawatch/internal/recheck", testutil.LiveSessionImportForbidden, "rechecker shares only the durable store")
}
