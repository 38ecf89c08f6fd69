package cmd

import (
	"errors"

	"github.com/rs/zerolog"

	"restkit/pkg/core"
	"restkit/pkg/rest"
)

var errNoBaseURL = errors.New("base URL is required (--base-url or RESTKIT_BASE_URL)")

// newClient builds a REST client for the configured API. tune may adjust the
// configuration before the client is created.
func (a *app) newClient(timePath, timeField string, tune func(*core.Config)) (*rest.Client, error) {
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	if lvl := a.logger.GetLevel(); lvl >= zerolog.TraceLevel && lvl <= zerolog.ErrorLevel {
		cfg.LogLevel = lvl.String()
	}
	if tune != nil {
		tune(cfg)
	}

	baseURL := a.v.GetString("base_url")
	if baseURL == "" {
		return nil, errNoBaseURL
	}

	protocol := &probeProtocol{
		name:      cfg.Name,
		baseURL:   baseURL,
		timePath:  timePath,
		timeField: timeField,
	}
	return rest.New(cfg, protocol, rest.WithLogger(a.logger))
}
