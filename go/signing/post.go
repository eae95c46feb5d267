// Package signing mints time-limited signed POST credentials for direct
// browser uploads to object storage. The AWS Go SDK has no presigned
// POST support, so the sigv4 policy signing is implemented here.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Credentials are the signing credentials of one presigned POST.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Post is a signed POST: the form target URL and the fields the client
// must submit with its file.
type Post struct {
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields"`
}

// Signer mints signed POSTs against one bucket. Now is the clock, and
// defaults to time.Now.
type Signer struct {
	Region      string
	Bucket      string
	Credentials func() (Credentials, error)
	Now         func() time.Time
}

// PresignPost signs a POST for the key, valid for the expiry duration
// and constrained to acl=private. Path-style addressing is used because
// CORS doesn't propagate to global bucket URLs immediately.
func (s *Signer) PresignPost(key string, expiry time.Duration) (*Post, error) {
	var creds, err = s.Credentials()
	if err != nil {
		return nil, fmt.Errorf("resolving signing credentials: %w", err)
	}

	var now = time.Now
	if s.Now != nil {
		now = s.Now
	}
	var at = now().UTC()
	var date = at.Format("20060102T150405Z")
	var credential = fmt.Sprintf("%s/%s/%s/s3/aws4_request",
		creds.AccessKeyID, at.Format("20060102"), s.Region)

	var conditions = []interface{}{
		map[string]string{"acl": "private"},
		map[string]string{"bucket": s.Bucket},
		map[string]string{"key": key},
		map[string]string{"x-amz-algorithm": "AWS4-HMAC-SHA256"},
		map[string]string{"x-amz-credential": credential},
		map[string]string{"x-amz-date": date},
	}
	if creds.SessionToken != "" {
		conditions = append(conditions,
			map[string]string{"x-amz-security-token": creds.SessionToken})
	}
	var doc, _ = json.Marshal(map[string]interface{}{
		"expiration": at.Add(expiry).Format("2006-01-02T15:04:05Z"),
		"conditions": conditions,
	})
	var policy = base64.StdEncoding.EncodeToString(doc)

	var signature = hmacSHA256(
		hmacSHA256(
			hmacSHA256(
				hmacSHA256(
					hmacSHA256([]byte("AWS4"+creds.SecretAccessKey), at.Format("20060102")),
					s.Region),
				"s3"),
			"aws4_request"),
		policy)

	var fields = map[string]string{
		"key":              key,
		"acl":              "private",
		"policy":           policy,
		"x-amz-algorithm":  "AWS4-HMAC-SHA256",
		"x-amz-credential": credential,
		"x-amz-date":       date,
		"x-amz-signature":  hex.EncodeToString(signature),
	}
	if creds.SessionToken != "" {
		fields["x-amz-security-token"] = creds.SessionToken
	}
	return &Post{
		URL:    fmt.Sprintf("https://s3.%s.amazonaws.com/%s", s.Region, s.Bucket),
		Fields: fields,
	}, nil
}

func hmacSHA256(key []byte, message string) []byte {
	var mac = hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return mac.Sum(nil)
}
