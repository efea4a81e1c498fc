package credentials

import (
	"context"
	"strings"
	"testing"

	"ghostcart/pkg/aperr"
)

func TestMethodsForKnownUsers(t *testing.T) {
	p := NewStaticProvider()
	for user, want := range map[string]int{
		"user_demo_001": 2,
		"user_demo_002": 3,
		"user_demo_003": 1,
	} {
		methods, err := p.MethodsFor(context.Background(), user)
		if err != nil {
			t.Fatalf("%s: %v", user, err)
		}
		if len(methods) != want {
			t.Errorf("%s: %d methods, want %d", user, len(methods), want)
		}
		for _, m := range methods {
			if !strings.HasPrefix(m.Token, "tok_") {
				t.Errorf("%s: untokenized credential %q", user, m.Token)
			}
		}
	}
}

func TestMethodsForUnknownUser(t *testing.T) {
	p := NewStaticProvider()
	_, err := p.MethodsFor(context.Background(), "user_unknown")
	if err == nil {
		t.Fatal("unknown user must error")
	}
	if aperr.CodeOf(err) != aperr.CodeCredentialsUnavailable {
		t.Errorf("code = %q, want credentials unavailable", aperr.CodeOf(err))
	}
}

func TestDefaultMethod(t *testing.T) {
	p := NewStaticProvider()
	m, err := DefaultMethod(context.Background(), p, "user_demo_001")
	if err != nil {
		t.Fatalf("default method: %v", err)
	}
	if m.Token != "tok_visa_4242" || !m.IsDefault {
		t.Errorf("default = %+v", m)
	}
}

type noDefaultProvider struct{}

func (noDefaultProvider) MethodsFor(context.Context, string) ([]Method, error) {
	return []Method{{Token: "tok_visa_0000", Type: "visa"}}, nil
}

func TestDefaultMethodWithoutDefault(t *testing.T) {
	_, err := DefaultMethod(context.Background(), noDefaultProvider{}, "user_demo_001")
	if err == nil {
		t.Fatal("provider without a default must error")
	}
	if aperr.CodeOf(err) != aperr.CodeCredentialsUnavailable {
		t.Errorf("code = %q", aperr.CodeOf(err))
	}
}

func TestMethodsForReturnsCopy(t *testing.T) {
	p := NewStaticProvider()
	first, err := p.MethodsFor(context.Background(), "user_demo_003")
	if err != nil {
		t.Fatalf("methods: %v", err)
	}
	first[0].Token = "tok_mutated"
	again, _ := p.MethodsFor(context.Background(), "user_demo_003")
	if again[0].Token != "tok_visa_9999" {
		t.Error("provider leaked its internal slice")
	}
}
