package mirror

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Region    = "auto"
	sigV4Service   = "s3"
	signedHeaders  = "host;x-amz-content-sha256;x-amz-date"
)

// Client uploads files to one bucket of an S3-compatible store using
// path-style URLs and SigV4 request signing.
type Client struct {
	endpoint  *url.URL
	bucket    string
	accessKey string
	secretKey string
	http      *resty.Client
	now       func() time.Time
}

func NewClient(endpoint, bucket, accessKey, secretKey string) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	bucket = strings.TrimSpace(bucket)
	accessKey = strings.TrimSpace(accessKey)
	secretKey = strings.TrimSpace(secretKey)
	if endpoint == "" || bucket == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("mirror: endpoint, bucket and credentials are required")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("mirror: parse endpoint: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("mirror: invalid endpoint %q", endpoint)
	}
	return &Client{
		endpoint:  u,
		bucket:    bucket,
		accessKey: accessKey,
		secretKey: secretKey,
		http:      resty.New().SetTimeout(2 * time.Minute),
		now:       time.Now,
	}, nil
}

// PutFile uploads localPath as key.
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	key = cleanKey(key)
	if key == "" {
		return fmt.Errorf("mirror: empty object key")
	}
	st, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("mirror: %s is a directory", localPath)
	}
	// Segments are bounded by hourly rotation, so they are read whole.
	body, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	uri := "/" + c.bucket + "/" + escapeKey(key)
	amzDate := c.now().UTC().Format("20060102T150405Z")
	auth := c.authorization(uri, payloadHash, amzDate)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("x-amz-content-sha256", payloadHash).
		SetHeader("x-amz-date", amzDate).
		SetHeader("Authorization", auth).
		SetBody(body).
		Put(c.endpoint.String() + uri)
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}
	msg := resp.String()
	if len(msg) > 8*1024 {
		msg = msg[:8*1024]
	}
	return fmt.Errorf("mirror: put key=%s status=%d body=%s", key, resp.StatusCode(), strings.TrimSpace(msg))
}

// authorization builds the SigV4 Authorization header for an unsigned-query
// PUT of uri.
func (c *Client) authorization(uri, payloadHash, amzDate string) string {
	host := c.endpoint.Host
	canonical := strings.Join([]string{
		"PUT",
		uri,
		"",
		"host:" + host + "\n" +
			"x-amz-content-sha256:" + payloadHash + "\n" +
			"x-amz-date:" + amzDate + "\n",
		signedHeaders,
		payloadHash,
	}, "\n")

	date := amzDate[:8]
	scope := date + "/" + sigV4Region + "/" + sigV4Service + "/aws4_request"
	sum := sha256.Sum256([]byte(canonical))
	toSign := strings.Join([]string{sigV4Algorithm, amzDate, scope, hex.EncodeToString(sum[:])}, "\n")

	key := hmacSHA256([]byte("AWS4"+c.secretKey), date)
	key = hmacSHA256(key, sigV4Region)
	key = hmacSHA256(key, sigV4Service)
	key = hmacSHA256(key, "aws4_request")
	sig := hex.EncodeToString(hmacSHA256(key, toSign))

	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		sigV4Algorithm, c.accessKey, scope, signedHeaders, sig)
}

func hmacSHA256(key []byte, data string) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(data))
	return m.Sum(nil)
}

// cleanKey normalizes slashes and rejects keys that escape the bucket root.
func cleanKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "" || key == "." {
		return ""
	}
	return key
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}
