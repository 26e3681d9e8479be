package main

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/notesync/internal/blob"
	cfgpkg "github.com/local/notesync/internal/config"
	"github.com/local/notesync/internal/limiter"
	"github.com/local/notesync/internal/scoring"
	"github.com/local/notesync/internal/statuscheck"
	"github.com/local/notesync/internal/store"
)

func buildBlobStore(ctx context.Context, cfg cfgpkg.BlobConfig) (blob.Store, func(), error) {
	var (
		st      blob.Store
		closeFn = func() {}
	)
	switch cfg.Backend {
	case "local", "":
		l, err := blob.NewLocal(cfg.LocalRoot)
		if err != nil {
			return nil, nil, err
		}
		st = l
	case "s3":
		s, err := blob.NewS3(ctx, blob.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, nil, err
		}
		st = s
	case "gcs":
		g, err := blob.NewGCS(ctx, blob.GCSOptions{Bucket: cfg.GCSBucket, CredentialsFile: cfg.GCSCredentials})
		if err != nil {
			return nil, nil, err
		}
		st = g
		closeFn = func() { _ = g.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
	if cfg.EncryptionPassword != "" {
		log.Info().Msg("blob encryption at rest enabled")
		st = blob.NewSealed(st, cfg.EncryptionPassword)
	}
	return st, closeFn, nil
}

func pingerOf(st blob.Store) statuscheck.Pinger {
	if p, ok := st.(blob.Pinger); ok {
		return p
	}
	return nil
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	return store.Connect(ctx, url)
}

// buildScorer chains the configured engines, primary first.
func buildScorer(cfg cfgpkg.ProvidersConfig, rc *redis.Client) (scoring.Scorer, error) {
	var providers []scoring.Provider
	for _, engine := range []string{cfg.PrimaryEngine, cfg.SecondaryEngine} {
		p, err := buildProvider(engine, cfg)
		if err != nil {
			log.Warn().Err(err).Str("engine", engine).Msg("skipping scoring provider")
			continue
		}
		if p != nil {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no usable scoring provider")
	}
	var breaker scoring.Breaker
	if rc != nil {
		breaker = scoring.NewRedisBreaker(rc, cfg.BreakerBaseBackoff, cfg.BreakerMaxBackoff)
	}
	f := scoring.NewFailover(breaker, providers...).WithSlots(limiter.New(cfg.MaxInflight))
	log.Info().Strs("providers", f.Providers()).Msg("scoring providers ready")
	return f, nil
}

func buildProvider(engine string, cfg cfgpkg.ProvidersConfig) (scoring.Provider, error) {
	switch engine {
	case "":
		return nil, nil
	case "openai":
		return scoring.NewOpenAI(scoring.OpenAIConfig{APIKey: cfg.OpenAIKey, Model: cfg.OpenAIModel})
	case "anthropic":
		return scoring.NewAnthropic(scoring.AnthropicConfig{APIKey: cfg.AnthropicKey, Model: cfg.AnthropicModel})
	}
	return nil, fmt.Errorf("unknown engine %q", engine)
}
