package providers

import (
	"context"
	"log/slog"
	"testing"

	"github.com/fitrelay/server/pkg/types"
)

type stubProvider struct {
	name  string
	ptype string
}

func (s *stubProvider) Name() string         { return s.name }
func (s *stubProvider) ProviderType() string { return s.ptype }
func (s *stubProvider) Enrich(ctx context.Context, logger *slog.Logger, activity *types.StandardizedActivity, user *types.UserRecord, inputConfig map[string]string, forceFinal bool) Outcome {
	return OK(nil)
}

func TestRegistry_Lookup(t *testing.T) {
	a := &stubProvider{name: "alpha", ptype: "ENRICHER_ALPHA"}
	b := &stubProvider{name: "beta", ptype: "ENRICHER_BETA"}
	r := NewRegistry(b, a)

	t.Run("by name", func(t *testing.T) {
		got, ok := r.ByName("alpha")
		if !ok {
			t.Fatal("expected alpha to be registered")
		}
		if got != a {
			t.Error("ByName returned the wrong provider")
		}
		if _, ok := r.ByName("gamma"); ok {
			t.Error("expected lookup miss for unregistered name")
		}
	})

	t.Run("by type", func(t *testing.T) {
		got, ok := r.ByType("ENRICHER_BETA")
		if !ok {
			t.Fatal("expected ENRICHER_BETA to be registered")
		}
		if got != b {
			t.Error("ByType returned the wrong provider")
		}
		if _, ok := r.ByType("ENRICHER_GAMMA"); ok {
			t.Error("expected lookup miss for unregistered type")
		}
	})

	t.Run("names sorted", func(t *testing.T) {
		names := r.Names()
		if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
			t.Errorf("expected sorted [alpha beta], got %v", names)
		}
	})
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	t.Run("duplicate name", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic on duplicate provider name")
			}
		}()
		NewRegistry(
			&stubProvider{name: "alpha", ptype: "ENRICHER_ALPHA"},
			&stubProvider{name: "alpha", ptype: "ENRICHER_OTHER"},
		)
	})

	t.Run("duplicate type", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic on duplicate provider type")
			}
		}()
		NewRegistry(
			&stubProvider{name: "alpha", ptype: "ENRICHER_ALPHA"},
			&stubProvider{name: "beta", ptype: "ENRICHER_ALPHA"},
		)
	})
}

func TestOutcomeConstructors(t *testing.T) {
	t.Run("ok carries patch", func(t *testing.T) {
		p := &Patch{NameSuffix: " (#3)"}
		o := OK(p)
		if o.Verdict != VerdictOK || o.Patch != p {
			t.Errorf("unexpected outcome: %+v", o)
		}
	})

	t.Run("ok nil patch is a no-op success", func(t *testing.T) {
		o := OK(nil)
		if o.Verdict != VerdictOK || o.Patch != nil || o.Err != nil {
			t.Errorf("unexpected outcome: %+v", o)
		}
	})
}
