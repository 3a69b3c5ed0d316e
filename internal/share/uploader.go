// Package share uploads saved clips to a remote share server and
// returns the public link it mints.
package share

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/rewinddvr/rewind/internal/errors"
	"github.com/rewinddvr/rewind/internal/resilience"
	"github.com/rewinddvr/rewind/internal/trace"
)

const requestTimeout = 2 * time.Minute

// Uploader is the share-server client. A nil Uploader (sharing not
// configured) is valid; Upload then reports upload failure.
type Uploader struct {
	baseURL  string
	username string
	client   *http.Client
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
}

// New returns an uploader for the share server at baseURL, or nil when
// baseURL is empty.
func New(baseURL, username string) *Uploader {
	if baseURL == "" {
		return nil
	}
	return &Uploader{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		client:   &http.Client{Timeout: requestTimeout},
		breaker:  resilience.New(resilience.UploadConfig()),
		retry:    resilience.UploadRetryConfig(),
	}
}

// Enabled reports whether sharing is configured.
func (u *Uploader) Enabled() bool { return u != nil }

// Upload sends the clip file with its metadata and returns the share
// link.
func (u *Uploader) Upload(ctx context.Context, path string, duration time.Duration) (string, error) {
	if u == nil {
		return "", apperrors.New(apperrors.CodeUpload, "sharing not configured")
	}

	var link string
	err := resilience.Retry(ctx, u.retry, func() error {
		return u.breaker.Execute(func() error {
			token, err := u.authenticate(ctx)
			if err != nil {
				return err
			}
			link, err = u.upload(ctx, token, path, duration)
			return err
		})
	})
	if err != nil {
		return "", err
	}
	trace.Logger(ctx).Info("clip uploaded", "path", path, "link", link)
	return link, nil
}

// authenticate exchanges the username for a short-lived bearer token.
func (u *Uploader) authenticate(ctx context.Context) (string, error) {
	form := url.Values{"username": {u.username}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		u.baseURL+"/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeUpload, "build auth request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var body struct {
		Token string `json:"token"`
	}
	if err := u.do(req, &body); err != nil {
		return "", err
	}
	if body.Token == "" {
		return "", apperrors.New(apperrors.CodeUpload, "auth response missing token")
	}
	return body.Token, nil
}

// upload streams the clip as multipart form data. The server requires
// the username field alongside the file; duration travels as metadata.
func (u *Uploader) upload(ctx context.Context, token, path string, duration time.Duration) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeUpload, "open clip file")
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := mw.WriteField("username", u.username)
		if err == nil {
			err = mw.WriteField("duration", strconv.FormatFloat(duration.Seconds(), 'f', 3, 64))
		}
		var part io.Writer
		if err == nil {
			part, err = mw.CreateFormFile("file", filepath.Base(path))
		}
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/upload", pr)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeUpload, "build upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	var body struct {
		Link string `json:"link"`
	}
	if err := u.do(req, &body); err != nil {
		return "", err
	}
	if body.Link == "" {
		return "", apperrors.New(apperrors.CodeUpload, "upload response missing link")
	}
	return body.Link, nil
}

// do executes the request and decodes a JSON response into out.
// Connection errors and 5xx responses map to retryable codes; 4xx means
// the request itself is wrong and retrying cannot help.
func (u *Uploader) do(req *http.Request, out any) error {
	resp, err := u.client.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "share server unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return apperrors.Newf(apperrors.CodeUnavailable, "share server error: %s", resp.Status)
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return apperrors.Newf(apperrors.CodeUnknown, "share server rejected request: %s", resp.Status).
			WithMetadata("body", strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.CodeUpload, "decode share response")
	}
	return nil
}
