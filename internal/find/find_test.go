package find

import (
	"testing"

	"github.com/SleepyMug/egalito/internal/chunk"
)

func buildModule() *chunk.Module {
	mod := chunk.NewModule("test.so", 0x1000)
	a := chunk.NewFunction("alpha", 0x1000, 0x10)
	b := chunk.NewFunction("beta", 0x1010, 0x20)
	c := chunk.NewFunction("gamma", 0x1030, 0x10)
	mod.Functions().AddFunction(a, 0x1000)
	mod.Functions().AddFunction(b, 0x1010)
	mod.Functions().AddFunction(c, 0x1030)
	return mod
}

func TestResolveByAddressFindsContainingFunction(t *testing.T) {
	mod := buildModule()
	fn, ok := ResolveByAddress(mod, 0x1015)
	if !ok {
		t.Fatal("expected a match")
	}
	if fn.Name() != "beta" {
		t.Fatalf("got %q; want beta", fn.Name())
	}
}

func TestResolveByAddressMissesGap(t *testing.T) {
	mod := buildModule()
	if _, ok := ResolveByAddress(mod, 0x2000); ok {
		t.Fatal("expected no match past the last function")
	}
}

func TestResolveByNameAndHexAddress(t *testing.T) {
	mod := buildModule()

	fn, err := Resolve(mod, "gamma")
	if err != nil {
		t.Fatalf("Resolve(name): %v", err)
	}
	if fn.Name() != "gamma" {
		t.Fatalf("got %q; want gamma", fn.Name())
	}

	fn, err = Resolve(mod, "0x1012")
	if err != nil {
		t.Fatalf("Resolve(hex addr): %v", err)
	}
	if fn.Name() != "beta" {
		t.Fatalf("got %q; want beta", fn.Name())
	}

	if _, err := Resolve(mod, "nope"); err == nil {
		t.Fatal("expected a QueryError for an unknown name")
	}
}

func TestFindInnermostContainingReturnsFunctionWithoutChildren(t *testing.T) {
	mod := buildModule()
	root := chunk.NewProgram()
	root.AddModule(mod)

	fn, _ := Resolve(mod, "alpha")
	block := chunk.NewBlock("b0")
	fn.AddBlock(block)

	found, ok := FindInnermostContaining(root, 0x1015)
	if !ok {
		t.Fatal("expected a match")
	}
	if found.Name() != "beta" {
		t.Fatalf("got %q; want beta", found.Name())
	}
}
