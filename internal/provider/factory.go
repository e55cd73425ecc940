package provider

import (
	"context"
	"fmt"

	"cloudforge/internal/config"
)

// New returns the adapter for the configured provider: AWSProvider for aws,
// YandexProvider for yandex_cloud, GCPProvider for gcp.
func New(ctx context.Context, cfg config.ProviderConfig, region string) (API, error) {
	switch cfg.Type {
	case config.ProviderAWS:
		if cfg.AWS == nil {
			return nil, fmt.Errorf("aws config is nil")
		}
		return NewAWSProvider(ctx, cfg.AWS, region)

	case config.ProviderYandexCloud:
		if cfg.YandexCloud == nil {
			return nil, fmt.Errorf("yandex_cloud config is nil")
		}
		return NewYandexProvider(ctx, cfg.YandexCloud)

	case config.ProviderGCP:
		if cfg.GCP == nil {
			return nil, fmt.Errorf("gcp config is nil")
		}
		return NewGCPProvider(ctx, cfg.GCP, region)

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}

// ImageID returns the configured machine image for the selected provider, or
// empty when the adapter should resolve a default.
func ImageID(cfg config.ProviderConfig) string {
	switch cfg.Type {
	case config.ProviderAWS:
		if cfg.AWS != nil {
			return cfg.AWS.ImageID
		}
	case config.ProviderYandexCloud:
		if cfg.YandexCloud != nil {
			return cfg.YandexCloud.ImageID
		}
	case config.ProviderGCP:
		if cfg.GCP != nil {
			return cfg.GCP.Image
		}
	}
	return ""
}
