package opensearch

type Config struct {
	Addresses    []string `env:"OPENSEARCH_ADDRESSES,required" envSeparator:","`
	Username     string   `env:"OPENSEARCH_USERNAME"`
	Password     string   `env:"OPENSEARCH_PASSWORD"`
	MaxRetries   int      `env:"OPENSEARCH_MAX_RETRIES" envDefault:"3"`
	DisableRetry bool     `env:"OPENSEARCH_DISABLE_RETRY" envDefault:"false"`
	// PromptEventsIndex receives one document per recorded prompt event.
	PromptEventsIndex string `env:"OPENSEARCH_PROMPT_EVENTS_INDEX" envDefault:"truthlens-prompt-events"`
}
