package config

const (
	defaultConfigPath         = "~/.config/docflow/config.toml"
	defaultStateDir           = "~/.local/share/docflow/state"
	defaultLogDir             = "~/.local/share/docflow/logs"
	defaultOutputDir          = "~/.local/share/docflow/output"
	defaultPromptsDir         = "~/.config/docflow/prompts"
	defaultProjectID          = "00000000-0000-0000-0000-000000000000"
	defaultRequestTimeout     = 300
	defaultAuthURL            = "https://cloud.uipath.com/identity_/connect/token"
	defaultAuthScope          = "Du.DocumentManager.Document Du.Classification.Api Du.Digitization.Api Du.Extraction.Api Du.Validation.Api"
	defaultKeyringService     = "docflow"
	defaultGenerativeID       = "generative_classifier"
	defaultGenerativeExtract  = "generative_extractor"
	defaultValidationPriority = "Medium"
	defaultValidationCatalog  = "default_du_actions"
	defaultValidationFolder   = "Shared"
	defaultStorageBucket      = "du_storage_bucket"
	defaultPollInterval       = 1
	defaultValidationInterval = 5
	defaultMaxRetries         = 15
	defaultRetryBaseDelay     = 2.0
	defaultExtractorUnavail   = "[IxpExtractorUnavailableError]"
	defaultCacheExpiryDays    = 7
	defaultWorkers            = 4
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultMetricsBind        = "127.0.0.1:9477"
	stateFileName             = "docflow.db"
	lockFileName              = "docflow.lock"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
			OutputDir:  defaultOutputDir,
			PromptsDir: defaultPromptsDir,
		},
		Service: Service{
			ProjectID:      defaultProjectID,
			RequestTimeout: defaultRequestTimeout,
		},
		Auth: Auth{
			URL:            defaultAuthURL,
			Scope:          defaultAuthScope,
			KeyringService: defaultKeyringService,
		},
		Pipeline: Pipeline{
			PerformClassification: true,
			PerformExtraction:     true,
			Classifier: Module{
				ID:         defaultGenerativeID,
				Generative: true,
			},
			ExtractorFallback: FallbackDefault,
			GenerativeExtractor: Module{
				ID:         defaultGenerativeExtract,
				Generative: true,
			},
		},
		Validation: Validation{
			Priority:         defaultValidationPriority,
			Catalog:          defaultValidationCatalog,
			Folder:           defaultValidationFolder,
			StorageBucket:    defaultStorageBucket,
			StorageDirectory: defaultStorageBucket,
		},
		Polling: Polling{
			Interval:           defaultPollInterval,
			ValidationInterval: defaultValidationInterval,
			MaxRetries:         defaultMaxRetries,
			RetryBaseDelay:     defaultRetryBaseDelay,
			TransientCodes:     []string{defaultExtractorUnavail},
		},
		Cache: Cache{
			ExpiryDays: defaultCacheExpiryDays,
		},
		Workflow: Workflow{
			Workers: defaultWorkers,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Bind: defaultMetricsBind,
		},
	}
}
