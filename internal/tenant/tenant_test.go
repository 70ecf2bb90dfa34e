package tenant

import "testing"

func TestNewRegistryValidation(t *testing.T) {
	if _, err := NewRegistry("Acme", nil); err == nil {
		t.Error("uppercase default schema accepted")
	}
	if _, err := NewRegistry("", nil); err == nil {
		t.Error("empty default schema accepted")
	}
	if _, err := NewRegistry("acme", []string{"bad-name"}); err == nil {
		t.Error("hyphenated schema accepted")
	}
	if _, err := NewRegistry("acme", []string{"globex_benefits"}); err != nil {
		t.Errorf("valid schemas rejected: %v", err)
	}
}

func TestRegistryResolve(t *testing.T) {
	r, err := NewRegistry("acme", []string{"globex"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if s, err := r.Resolve("globex"); err != nil || s != Schema("globex") {
		t.Errorf("Resolve(globex) = %q, %v", s, err)
	}
	// The default is always provisioned.
	if _, err := r.Resolve("acme"); err != nil {
		t.Errorf("Resolve(acme) = %v", err)
	}
	if _, err := r.Resolve("unknown"); err == nil {
		t.Error("unknown schema resolved")
	}
	if r.Default() != Schema("acme") {
		t.Errorf("Default() = %q", r.Default())
	}
	if len(r.All()) != 2 {
		t.Errorf("All() returned %d schemas, want 2", len(r.All()))
	}
}
