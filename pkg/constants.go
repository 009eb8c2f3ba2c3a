package shared

const (
	ProjectID = "fitrelay-project" // Overridden by GOOGLE_CLOUD_PROJECT

	TopicActivityEnrichment = "topic-activity-enrichment" // Enricher pipeline entry point
	TopicEnrichedActivity   = "topic-enriched-activity"   // Router input

	CollectionUsers      = "users"
	CollectionPipelines  = "pipelines" // Sub-collection under users
	CollectionCounters   = "counters"  // Sub-collection under users
	CollectionExecutions = "executions"

	DefaultArtifactBucket = "fitrelay-artifacts"
)
