package factory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"smart-router/internal/config"
	"smart-router/internal/provider"
	geminiProvider "smart-router/internal/provider/gemini"
	openaiProvider "smart-router/internal/provider/openai"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// RegisterConfiguredProviders constructs providers from configuration and stores them in the registry.
func RegisterConfiguredProviders(ctx context.Context, cfg config.Config, registry *provider.Registry) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	if cfg.Providers.Gemini != nil {
		geminiCfg := *cfg.Providers.Gemini
		p, err := geminiProvider.New("gemini", geminiCfg, newHTTPClient(timeoutOrDefault(geminiCfg.Timeout)))
		if err != nil {
			return fmt.Errorf("initialise gemini provider: %w", err)
		}
		if err := registry.RegisterProvider(ctx, p, geminiCfg.Aliases); err != nil {
			return fmt.Errorf("register gemini provider: %w", err)
		}
	}

	if cfg.Providers.OpenAI != nil {
		openAICfg := *cfg.Providers.OpenAI
		p, err := openaiProvider.New("openai", openAICfg, newHTTPClient(timeoutOrDefault(openAICfg.Timeout)))
		if err != nil {
			return fmt.Errorf("initialise openai provider: %w", err)
		}
		if err := registry.RegisterProvider(ctx, p, openAICfg.Aliases); err != nil {
			return fmt.Errorf("register openai provider: %w", err)
		}
	}

	if len(registry.ModelIDs()) == 0 {
		return errors.New("no providers configured")
	}

	return nil
}

func timeoutOrDefault(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return defaultHTTPTimeout
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
