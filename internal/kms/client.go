// Package kms seals and unseals operator keys with AWS KMS.
package kms

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/caesar-terminal/settle/internal/auth"
)

// API is the subset of the KMS SDK client used here.
type API interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
	Encrypt(ctx context.Context, in *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
}

// Client wraps the AWS KMS SDK. It satisfies auth.Decrypter.
type Client struct {
	kms API
}

var _ auth.Decrypter = (*Client)(nil)

// New creates a KMS Client. If localStackEndpoint is non-empty, the client
// targets that endpoint with dummy credentials (for local development).
// Otherwise it uses the AWS default credential chain.
func New(ctx context.Context, region, localStackEndpoint string) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))

	if localStackEndpoint != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "test")),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("kms: load aws config: %w", err)
	}

	var kmsOpts []func(*kms.Options)
	if localStackEndpoint != "" {
		kmsOpts = append(kmsOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(localStackEndpoint)
		})
	}

	return NewWithAPI(kms.NewFromConfig(cfg, kmsOpts...)), nil
}

// NewWithAPI wraps an existing KMS API implementation.
func NewWithAPI(api API) *Client {
	return &Client{kms: api}
}

// Decrypt sends the ciphertext blob to KMS and returns the plaintext. The
// caller is responsible for wiping the returned bytes.
func (c *Client) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := c.kms.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms: decrypt: %w", err)
	}
	return out.Plaintext, nil
}

// Encrypt seals plaintext under keyID.
func (c *Client) Encrypt(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	if keyID == "" {
		return nil, errors.New("kms: key id is required")
	}
	out, err := c.kms.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms: encrypt: %w", err)
	}
	return out.CiphertextBlob, nil
}

// LoadKeyRing decrypts the operator key stored at path.
func LoadKeyRing(ctx context.Context, d auth.Decrypter, path string) (*auth.KeyRing, error) {
	ct, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kms: read key file: %w", err)
	}
	return auth.KeyRingFromCiphertext(ctx, d, ct)
}

// SealKey encrypts a raw private key under keyID and writes it to path with
// owner-only permissions.
func SealKey(ctx context.Context, c *Client, keyID string, key []byte, path string) error {
	ct, err := c.Encrypt(ctx, keyID, key)
	if err != nil {
		return err
	}
	return os.WriteFile(path, ct, 0o600)
}
