package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Driver selects the blob backend.
type Driver string

const (
	// DriverS3 targets any S3-compatible endpoint.
	DriverS3 Driver = "s3"

	// DriverMemory selects the in-process mock store.
	DriverMemory Driver = "memory"
)

// Connection is a parsed connection string.
type Connection struct {
	Driver Driver

	AccessKeyID     string
	SecretAccessKey string

	// Endpoint is empty for AWS proper; non-empty targets an
	// S3-compatible service and implies path-style addressing.
	Endpoint string

	Bucket string

	// Prefix is the key prefix inside the bucket. May be empty.
	Prefix string
}

// ParseConnectionString parses an s3db connection string:
//
//	s3://ACCESS:SECRET@ENDPOINT/BUCKET/KEY-PREFIX
//	s3://ACCESS:SECRET@/BUCKET/KEY-PREFIX          (AWS, region from config)
//	memory://BUCKET/KEY-PREFIX
//
// The key prefix is everything after the bucket segment and may contain
// slashes. Credentials and endpoint are optional for s3 (the AWS SDK
// default chain applies when absent).
func ParseConnectionString(raw string) (*Connection, error) {
	if raw == "" {
		return nil, fmt.Errorf("connection string is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	switch u.Scheme {
	case "memory":
		bucket := u.Host
		if bucket == "" {
			return nil, fmt.Errorf("memory:// connection string needs a bucket: memory://bucket/prefix")
		}
		return &Connection{
			Driver: DriverMemory,
			Bucket: bucket,
			Prefix: strings.Trim(u.Path, "/"),
		}, nil

	case "s3":
		conn := &Connection{Driver: DriverS3}

		if u.User != nil {
			conn.AccessKeyID = u.User.Username()
			conn.SecretAccessKey, _ = u.User.Password()
		}

		// The host part is the endpoint; empty or aws means AWS proper.
		if host := u.Host; host != "" && host != "aws" {
			scheme := "https"
			if strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.") {
				scheme = "http"
			}
			conn.Endpoint = scheme + "://" + host
		}

		segments := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
		if segments[0] == "" {
			return nil, fmt.Errorf("s3:// connection string needs a bucket: s3://ACCESS:SECRET@ENDPOINT/BUCKET/PREFIX")
		}
		conn.Bucket = segments[0]
		if len(segments) == 2 {
			conn.Prefix = segments[1]
		}
		return conn, nil

	default:
		return nil, fmt.Errorf("unsupported connection scheme %q (want s3:// or memory://)", u.Scheme)
	}
}

// Redacted returns the connection string form with the secret masked,
// safe for logs.
func (c *Connection) Redacted() string {
	var sb strings.Builder
	sb.WriteString(string(c.Driver))
	sb.WriteString("://")
	if c.AccessKeyID != "" {
		sb.WriteString(c.AccessKeyID)
		sb.WriteString(":***@")
	}
	if c.Endpoint != "" {
		sb.WriteString(strings.TrimPrefix(strings.TrimPrefix(c.Endpoint, "https://"), "http://"))
	}
	sb.WriteString("/")
	sb.WriteString(c.Bucket)
	if c.Prefix != "" {
		sb.WriteString("/")
		sb.WriteString(c.Prefix)
	}
	return sb.String()
}
