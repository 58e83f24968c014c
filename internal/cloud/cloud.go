// Package cloud hands out time-limited credentials on the buffer bucket,
// where senders park files while the recipient is offline or a ghost.
package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/infinitio/oracles/internal/domain"
)

type Config struct {
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
	Bucket       string
	URLExpiry    time.Duration

	// SigningKey signs the download tokens embedded in ghost emails.
	SigningKey []byte
}

type Buffer struct {
	cfg     Config
	presign *s3.PresignClient
}

func New(ctx context.Context, cfg Config) (*Buffer, error) {
	awscfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awscfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
	})
	return &Buffer{cfg: cfg, presign: s3.NewPresignClient(client)}, nil
}

func objectKey(tx domain.TransactionID, name string) string {
	return fmt.Sprintf("%s/%s", tx, name)
}

// UploadURL presigns a PUT for the sender side of a transaction.
func (b *Buffer) UploadURL(ctx context.Context, tx domain.TransactionID, name string) (string, error) {
	key := objectKey(tx, name)
	req, err := b.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: &b.cfg.Bucket,
		Key:    &key,
	}, s3.WithPresignExpires(b.cfg.URLExpiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// DownloadURL presigns a GET for the recipient side.
func (b *Buffer) DownloadURL(ctx context.Context, tx domain.TransactionID, name string) (string, error) {
	key := objectKey(tx, name)
	disposition := fmt.Sprintf("attachment; filename=%q", name)
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     &b.cfg.Bucket,
		Key:                        &key,
		ResponseContentDisposition: &disposition,
	}, s3.WithPresignExpires(b.cfg.URLExpiry))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// GhostDownloadToken signs a claim that lets the ghost email's link fetch
// the buffered file long after the HTTP session that created it is gone.
func GhostDownloadToken(key []byte, tx domain.TransactionID, name string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"transaction_id": tx.String(),
		"file":           name,
		"iat":            now.Unix(),
		"exp":            now.Add(ttl).Unix(),
	})
	return token.SignedString(key)
}

// ParseGhostDownloadToken validates a token and returns the transaction id
// and file name it grants access to.
func ParseGhostDownloadToken(key []byte, raw string) (string, string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return "", "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", jwt.ErrTokenInvalidClaims
	}
	tx, _ := claims["transaction_id"].(string)
	file, _ := claims["file"].(string)
	if tx == "" {
		return "", "", jwt.ErrTokenInvalidClaims
	}
	return tx, file, nil
}
