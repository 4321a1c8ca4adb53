package persistence

import (
	"go/types"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestDurableStoreImplementationsHardening ensures only sanctioned packages
// provide concrete implementations of domain.DurableStore. Adding a backend
// requires updating the allowed list deliberately.
func TestDurableStoreImplementationsHardening(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes}
	pkgs, err := packages.Load(cfg, "aquawatch/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var durable *types.Interface
	for _, p := range pkgs {
		if p.PkgPath != "aquawatch/pkg/domain" {
			continue
		}
		obj := p.Types.Scope().Lookup("DurableStore")
		if obj == nil {
			t.Fatalf("domain.DurableStore not found")
		}
		iface, ok := obj.Type().Underlying().(*types.Interface)
		if !ok {
			t.Fatalf("domain.DurableStore is not an interface")
		}
		durable = iface
	}
	if durable == nil {
		t.Fatalf("failed to resolve DurableStore interface")
	}
	allowed := map[string]struct{}{
		"aquawatch/internal/infra/persistence/memory":   {},
		"aquawatch/internal/infra/persistence/sqlite":   {},
		"aquawatch/internal/infra/persistence/postgres": {},
		"aquawatch/internal/infra/cache/redis":          {}, // profile cache decorates a store
	}
	var unexpected []string
	for _, p := range pkgs {
		if p.Types == nil || p.Types.Scope() == nil {
			continue
		}
		for _, name := range p.Types.Scope().Names() {
			named, ok := p.Types.Scope().Lookup(name).Type().(*types.Named)
			if !ok {
				continue
			}
			if _, ok := named.Underlying().(*types.Struct); !ok {
				continue
			}
			if types.Implements(types.NewPointer(named), durable) {
				if _, ok := allowed[p.PkgPath]; !ok {
					unexpected = append(unexpected, p.PkgPath+"."+name)
				}
			}
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		_, file, line, _ := runtime.Caller(0)
		t.Fatalf("unexpected DurableStore implementations (update allowed list intentionally if adding a new backend):\nfile=%s:%d\n%v", filepath.Base(file), line, unexpected)
	}
}
