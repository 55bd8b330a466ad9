package graphql

import (
	"context"
	"testing"
	"time"
)

func TestStaticResolvers(t *testing.T) {
	resolvers := StaticResolvers(map[string][]ResolverConfig{
		"Query.user": {
			{
				Match:    &ResolverMatch{Args: map[string]interface{}{"id": "admin"}},
				Response: map[string]interface{}{"id": "admin", "name": "Administrator", "role": "ADMIN"},
			},
			{
				Response: map[string]interface{}{"id": "{{args.id}}", "name": "User {{args.id}}", "role": "USER"},
			},
		},
		"Query.role": {
			{Error: &GraphQLErrorConfig{Message: "not allowed", Extensions: map[string]interface{}{"code": "FORBIDDEN"}}},
		},
	})

	exec := newTestExecutor(t, WithResolvers(resolvers))

	resp := exec.Execute(context.Background(), &GraphQLRequest{
		Query: `{ admin: user(id: "admin") { name role } other: user(id: "7") { id name role } }`,
	}, nil)
	if resp.HasErrors() {
		t.Fatalf("unexpected errors: %v", resp.Errors)
	}
	data := dataMap(t, resp)
	admin := data["admin"].(map[string]interface{})
	other := data["other"].(map[string]interface{})
	if admin["name"] != "Administrator" || admin["role"] != "ADMIN" {
		t.Errorf("admin = %v", admin)
	}
	if other["id"] != "7" || other["name"] != "User 7" || other["role"] != "USER" {
		t.Errorf("other = %v", other)
	}

	resp = exec.Execute(context.Background(), &GraphQLRequest{Query: `{ role }`}, nil)
	if len(resp.Errors) != 1 || resp.Errors[0].Message != "not allowed" {
		t.Fatalf("expected configured error, got %v", resp.Errors)
	}
	if resp.Errors[0].Extensions["code"] != "FORBIDDEN" {
		t.Errorf("extensions = %v", resp.Errors[0].Extensions)
	}
}

func TestFindResolver(t *testing.T) {
	configs := []ResolverConfig{
		{Match: &ResolverMatch{Args: map[string]interface{}{"n": 1}}, Response: "one"},
		{Match: &ResolverMatch{Args: map[string]interface{}{"n": 2}}, Response: "two"},
	}

	if rc := findResolver(configs, map[string]interface{}{"n": int64(2)}); rc == nil || rc.Response != "two" {
		t.Errorf("findResolver(n=2) = %v", rc)
	}
	if rc := findResolver(configs, map[string]interface{}{"n": 3}); rc != nil {
		t.Errorf("findResolver(n=3) = %v, want nil", rc)
	}
}

func TestApplyArgs(t *testing.T) {
	got := applyArgs(map[string]interface{}{
		"greeting": "hello {{args.name}}",
		"list":     []interface{}{"{{args.name}}", 3, "{{args.missing}}"},
	}, map[string]interface{}{"name": "ann"})

	m := got.(map[string]interface{})
	if m["greeting"] != "hello ann" {
		t.Errorf("greeting = %v", m["greeting"])
	}
	list := m["list"].([]interface{})
	if list[0] != "ann" || list[1] != 3 || list[2] != "{{args.missing}}" {
		t.Errorf("list = %v", list)
	}
}

func TestResolveStatic_DelayRespectsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := resolveStatic(ctx, &ResolverConfig{Delay: "5s", Response: "late"}, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if time.Since(start) > time.Second {
		t.Error("delay should stop when the context is done")
	}
}
