package tenant

import "testing"

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		ctx     Context
		wantErr bool
	}{
		{"valid minimal", Context{Env: "prod", Tenant: "acme"}, false},
		{"valid full", Context{Env: "prod", Tenant: "acme", Team: "default", User: "u1"}, false},
		{"missing env", Context{Tenant: "acme"}, true},
		{"missing tenant", Context{Env: "prod"}, true},
		{"bad env chars", Context{Env: "Prod!", Tenant: "acme"}, true},
		{"bad tenant chars", Context{Env: "prod", Tenant: "ACME"}, true},
		{"bad team chars", Context{Env: "prod", Tenant: "acme", Team: "Team_1"}, true},
		{"leading dash tenant", Context{Env: "prod", Tenant: "-acme"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ctx.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestWithTeamUserImmutable(t *testing.T) {
	base := Context{Env: "prod", Tenant: "acme"}
	withTeam := base.WithTeam("default")
	if base.Team != "" {
		t.Fatalf("base mutated: %+v", base)
	}
	if withTeam.Team != "default" {
		t.Fatalf("withTeam.Team = %q", withTeam.Team)
	}
	withUser := withTeam.WithUser("u1")
	if withTeam.User != "" {
		t.Fatalf("withTeam mutated: %+v", withTeam)
	}
	if withUser.User != "u1" || withUser.Team != "default" {
		t.Fatalf("withUser = %+v", withUser)
	}
}

func TestKey(t *testing.T) {
	c := Context{Env: "prod", Tenant: "acme", Team: "default"}
	if got := c.Key(); got != "prod.acme" {
		t.Fatalf("Key() = %q", got)
	}
}
