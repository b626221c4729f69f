package app

import (
	"context"

	"learnbyemail/internal/config"
	"learnbyemail/internal/content"
	logx "learnbyemail/pkg/logx"
)

// Preview generates one preview lesson using only the content section of the
// config. No storage or transports are touched.
func Preview(ctx context.Context, cfgPath, envFile, topic, difficulty string) (string, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return "", err
	}
	sec, err := config.LoadSecrets(envFile)
	if err != nil {
		return "", err
	}
	model, err := buildModel(ctx, cfg, sec)
	if err != nil {
		return "", err
	}
	opt, err := mapContentOptions(cfg)
	if err != nil {
		return "", err
	}
	gen := content.NewGenerator(model, opt, logx.NewConsole(cfg.Logging.Level))
	return gen.Generate(ctx, content.Request{Topic: topic, Difficulty: difficulty, Preview: true})
}
