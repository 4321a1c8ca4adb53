package sqlite

import (
	"testing"

	"aquawatch/testutil"
)

func TestImportsStayInPersistenceLayer(t *testing.T) {
	forbidden := testutil.ModuleImportsExcept(
		"aquawatch/pkg/domain",
		"aquawatch/internal/infra/persistence/memory",
		"aquawatch/internal/infra/persistence/sqlstore",
	)
	testutil.AssertNoDirectImports(t, ".", forbidden, "sqlite driver may only build on the memory journal and sqlstore")
}
