package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	redact(&out.Execution.RelaySecret)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Trading.Pairs = cloneStrings(cfg.Trading.Pairs)
	out.Kafka.Brokers = cloneStrings(cfg.Kafka.Brokers)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	if cfg.Feed.Exchanges != nil {
		out.Feed.Exchanges = make([]ExchangeConfig, len(cfg.Feed.Exchanges))
		for i, ex := range cfg.Feed.Exchanges {
			if ex.Prices != nil {
				prices := make(map[string]float64, len(ex.Prices))
				for k, v := range ex.Prices {
					prices[k] = v
				}
				ex.Prices = prices
			}
			out.Feed.Exchanges[i] = ex
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
