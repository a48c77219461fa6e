package app

import (
	"context"

	"github.com/caesar-terminal/settle/internal/auth"
	"github.com/caesar-terminal/settle/internal/config"
	"github.com/caesar-terminal/settle/internal/kms"
)

// LoadKeyRing loads the operator key named by cfg: a hex key wins over a
// KMS-encrypted key file. It returns nil, nil when neither is configured.
func LoadKeyRing(ctx context.Context, cfg config.SignerConfig, localStackEndpoint string) (*auth.KeyRing, error) {
	switch {
	case cfg.KeyHex != "":
		return auth.KeyRingFromHex(cfg.KeyHex)
	case cfg.KeyFile != "":
		client, err := kms.New(ctx, cfg.AWSRegion, localStackEndpoint)
		if err != nil {
			return nil, err
		}
		return kms.LoadKeyRing(ctx, client, cfg.KeyFile)
	default:
		return nil, nil
	}
}
