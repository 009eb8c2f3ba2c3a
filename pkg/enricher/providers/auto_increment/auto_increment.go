// Package auto_increment appends a monotonically increasing counter to
// the activity name, e.g. "Morning Run (#42)". Counters are per-user
// and keyed by configuration so several pipelines can share or isolate
// their sequences.
package auto_increment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fitrelay/server/pkg/bootstrap"
	"github.com/fitrelay/server/pkg/enricher/providers"
	"github.com/fitrelay/server/pkg/types"
)

type AutoIncrementProvider struct {
	service *bootstrap.Service
}

func New() *AutoIncrementProvider {
	return &AutoIncrementProvider{}
}

func (p *AutoIncrementProvider) SetService(s *bootstrap.Service) {
	p.service = s
}

func (p *AutoIncrementProvider) Name() string {
	return "auto_increment"
}

func (p *AutoIncrementProvider) ProviderType() string {
	return providers.TypeAutoIncrement
}

func (p *AutoIncrementProvider) Enrich(ctx context.Context, logger *slog.Logger, activity *types.StandardizedActivity, user *types.UserRecord, inputs map[string]string, forceFinal bool) providers.Outcome {
	key := inputs["counter_key"]
	if key == "" {
		logger.Debug("auto_increment: skipping - no counter_key configured")
		return providers.OK(&providers.Patch{
			Metadata: map[string]string{
				"auto_increment_applied": "false",
				"reason":                 "Misconfigured",
			},
		})
	}

	// Optional title filter
	if filter := inputs["title_contains"]; filter != "" {
		if !strings.Contains(strings.ToLower(activity.Name), strings.ToLower(filter)) {
			logger.Debug("auto_increment: skipping - title does not match filter",
				"filter", filter,
				"activity_name", activity.Name,
			)
			return providers.OK(&providers.Patch{
				Metadata: map[string]string{
					"auto_increment_applied": "false",
					"reason":                 "Title does not contain filter",
				},
			})
		}
	}

	if p.service == nil {
		return providers.Fatal(fmt.Errorf("service not initialized"))
	}

	// First increment of a fresh counter yields initial_value (default 1).
	var initial int64 = 1
	if raw := inputs["initial_value"]; raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			initial = parsed
		} else {
			logger.Warn("auto_increment: ignoring non-numeric initial_value", "initial_value", raw)
		}
	}

	newCount, err := p.service.DB.IncrementCounter(ctx, user.UserID, key, initial)
	if err != nil {
		return providers.Fatal(fmt.Errorf("failed to increment counter: %w", err))
	}

	logger.Info("auto_increment: counter advanced",
		"key", key,
		"new_count", newCount,
	)

	return providers.OK(&providers.Patch{
		NameSuffix: fmt.Sprintf(" (#%d)", newCount),
		Metadata: map[string]string{
			"auto_increment_applied": "true",
			"auto_increment_key":     key,
			"auto_increment_val":     strconv.FormatInt(newCount, 10),
		},
	})
}
