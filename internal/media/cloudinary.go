package media

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	avatarFolder         = "avatars"
	avatarTransformation = "c_fill,g_face,h_250,w_250/q_auto/f_auto"
)

type Cloudinary struct {
	apiKey     string
	apiSecret  string
	uploadURL  string
	httpClient *http.Client
	now        func() time.Time
}

type cloudinaryUploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewCloudinary parses a cloudinary://<key>:<secret>@<cloud> URL.
func NewCloudinary(rawURL string) (*Cloudinary, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse cloudinary url: %w", err)
	}

	if parsed.Scheme != "cloudinary" {
		return nil, fmt.Errorf("invalid cloudinary scheme")
	}

	apiKey := parsed.User.Username()
	apiSecret, ok := parsed.User.Password()
	if !ok {
		return nil, fmt.Errorf("missing cloudinary api secret")
	}
	cloudName := parsed.Hostname()
	if apiKey == "" || apiSecret == "" || cloudName == "" {
		return nil, fmt.Errorf("invalid cloudinary credentials")
	}

	return &Cloudinary{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		uploadURL: fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/image/upload", cloudName),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		now: time.Now,
	}, nil
}

// WithUploadURL points the client at a different upload endpoint.
func (c *Cloudinary) WithUploadURL(uploadURL string) *Cloudinary {
	c.uploadURL = uploadURL
	return c
}

// UploadAvatar stores the image under avatars/user_<id>, replacing any
// previous avatar of the same account.
func (c *Cloudinary) UploadAvatar(ctx context.Context, accountID int64, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}

	params := map[string]string{
		"folder":         avatarFolder,
		"public_id":      fmt.Sprintf("user_%d", accountID),
		"overwrite":      "true",
		"transformation": avatarTransformation,
		"timestamp":      strconv.FormatInt(c.now().Unix(), 10),
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.apiKey

	body, formType, err := encodeUploadForm(params, contentType, data)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, body)
	if err != nil {
		return "", fmt.Errorf("build cloudinary upload request: %w", err)
	}
	req.Header.Set("Content-Type", formType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloudinary upload request: %w", err)
	}
	defer resp.Body.Close()

	return decodeUploadResponse(resp)
}

func encodeUploadForm(fields map[string]string, contentType string, data []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, key := range sortedKeys(fields) {
		if err := writer.WriteField(key, fields[key]); err != nil {
			return nil, "", fmt.Errorf("write %s field: %w", key, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="avatar%s"`, extensionFor(contentType)))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

func decodeUploadResponse(resp *http.Response) (string, error) {
	var parsed cloudinaryUploadResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 2<<20)).Decode(&parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("cloudinary upload failed: %s", parsed.Error.Message)
		}
		return "", fmt.Errorf("cloudinary upload failed with status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode cloudinary response: %w", decodeErr)
	}
	if parsed.SecureURL == "" {
		return "", fmt.Errorf("cloudinary response missing secure_url")
	}
	return parsed.SecureURL, nil
}

// sign builds the API signature: sorted key=value pairs joined by '&',
// followed by the secret.
func (c *Cloudinary) sign(params map[string]string) string {
	pairs := make([]string, 0, len(params))
	for _, key := range sortedKeys(params) {
		pairs = append(pairs, key+"="+params[key])
	}

	h := sha1.New() // #nosec G401: cloudinary API signature requires SHA-1.
	_, _ = h.Write([]byte(strings.Join(pairs, "&") + c.apiSecret))
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
