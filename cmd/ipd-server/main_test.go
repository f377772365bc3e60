package main

import (
	"testing"

	"github.com/ehr/ipd/internal/platform/db"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	want := map[string][]string{
		"serve":   nil,
		"migrate": {"up", "status"},
		"tenant":  {"create"},
		"accrual": {"run"},
		"ward":    {"reconcile"},
	}
	for name, subs := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered", name)
		}
		for _, sub := range subs {
			c, _, err := root.Find([]string{name, sub})
			if err != nil || c.Name() != sub {
				t.Errorf("command %q %q not registered", name, sub)
			}
		}
	}
}

func TestTenantFlags(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{{"accrual", "run"}, {"ward", "reconcile"}} {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Fatalf("find %v: %v", path, err)
		}
		f := cmd.Flags().Lookup("tenant")
		if f == nil {
			t.Fatalf("%v has no --tenant flag", path)
		}
		if f.DefValue != "" {
			t.Errorf("%v --tenant default = %q, want empty", path, f.DefValue)
		}
	}
}

func TestMigrateFlags(t *testing.T) {
	cmd, _, err := rootCmd().Find([]string{"migrate", "up"})
	if err != nil {
		t.Fatal(err)
	}
	if got := cmd.Flags().Lookup("schema").DefValue; got != "tenant_default" {
		t.Errorf("--schema default = %q", got)
	}
	if got := cmd.Flags().Lookup("dir").DefValue; got != "" {
		t.Errorf("--dir default = %q, want empty so MIGRATIONS_DIR applies", got)
	}
}

func TestTenantScope(t *testing.T) {
	one, ok := tenantScope(nil, "north").(db.OneTenant)
	if !ok {
		t.Fatalf("named tenant should scope to one tenant, got %T", tenantScope(nil, "north"))
	}
	if one.ID != "north" {
		t.Errorf("ID = %q, want north", one.ID)
	}
	if _, ok := tenantScope(nil, "").(db.AllTenants); !ok {
		t.Errorf("empty tenant should scope to all tenants")
	}
}

func TestTenantCreate_RequiresName(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"tenant", "create"})
	root.SilenceUsage = true
	root.SilenceErrors = true
	if err := root.Execute(); err == nil || err.Error() != "--name is required" {
		t.Errorf("err = %v, want --name is required", err)
	}
}
