// Package mock is a configurable provider for exercising the full
// pipeline in tests and staging. The "behavior" input selects the
// outcome:
//   - "success": patch with optional name/description/suffix overrides
//   - "lag":     retry outcome until forceFinal, then best-effort success
//   - "fail":    fatal outcome
//   - "halt":    halts the pipeline
package mock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fitrelay/server/pkg/enricher/providers"
	"github.com/fitrelay/server/pkg/types"
)

type MockProvider struct{}

func New() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string {
	return "mock"
}

func (p *MockProvider) ProviderType() string {
	return providers.TypeMock
}

func (p *MockProvider) Enrich(ctx context.Context, logger *slog.Logger, activity *types.StandardizedActivity, user *types.UserRecord, inputs map[string]string, forceFinal bool) providers.Outcome {
	behavior := inputs["behavior"]
	if behavior == "" {
		behavior = "success"
	}

	switch behavior {
	case "success":
		return p.handleSuccess(inputs)
	case "lag":
		return p.handleLag(forceFinal)
	case "fail":
		message := inputs["error_message"]
		if message == "" {
			message = "mock provider hard failure"
		}
		return providers.Fatal(fmt.Errorf("%s", message))
	case "halt":
		reason := inputs["halt_reason"]
		if reason == "" {
			reason = "mock halt"
		}
		return providers.OK(&providers.Patch{HaltPipeline: true, HaltReason: reason})
	default:
		return providers.Fatal(fmt.Errorf("unknown mock behavior: %s", behavior))
	}
}

func (p *MockProvider) handleSuccess(inputs map[string]string) providers.Outcome {
	patch := &providers.Patch{
		Name:        inputs["name"],
		Description: inputs["description"],
		NameSuffix:  inputs["name_suffix"],
		Metadata: map[string]string{
			"mock_provider": "true",
			"behavior":      "success",
		},
	}
	if patch.Name == "" && patch.NameSuffix == "" {
		patch.Name = "Mock Activity"
	}
	if patch.Description == "" {
		patch.Description = "This activity was enriched by the mock provider"
	}
	return providers.OK(patch)
}

func (p *MockProvider) handleLag(forceFinal bool) providers.Outcome {
	if forceFinal {
		return providers.OK(&providers.Patch{
			Name:        "Mock Activity (Lag Exhausted)",
			Description: "This activity was enriched after lag retry was exhausted",
			Metadata: map[string]string{
				"mock_provider":  "true",
				"behavior":       "lag",
				"lag_exhausted":  "true",
				"forced_success": "true",
			},
		})
	}
	return providers.Retry(1*time.Minute, "mock lag delay")
}
