package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the startup banner and logs the effective runtime shape
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("Docket", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("source", config.Source.Mode).
		Int("index_workers", config.Scraper.Index.Workers).
		Int("detail_workers", config.Scraper.Detail.Workers).
		Int("max_retries", config.Scraper.MaxRetries).
		Msg("Docket starting")
}
