package s3

import (
	"fmt"
	"time"
)

type Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	UsePathStyle    bool
	RequestTimeout  time.Duration
}

// Validate проверяет, что все обязательные поля заполнены
func (c *Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.AccessKeyID == "" {
		return fmt.Errorf("s3 access key id is required")
	}
	if c.SecretAccessKey == "" {
		return fmt.Errorf("s3 secret access key is required")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("s3 request timeout cannot be negative")
	}
	return nil
}
