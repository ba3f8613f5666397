package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"strings"
	"time"

	"hrb-go/internal/hrb"
)

// ErrUnauthorized is returned when the server rejects the credentials or
// the session.
var ErrUnauthorized = errors.New("unauthorized")

const httpTimeout = 5 * time.Minute

// HTTPTransport talks to a HeartyRabbit server:
//
//	POST /login                               form username, password
//	GET  /blob/<owner>/<coll>/<hex>?<rend>    blob content
//	PUT  /upload/<coll>/<filename>            201, Location /blob/<owner>/<coll>/<hex>
//	GET  /view/<owner>/<coll>/?json           collection JSON
//
// The session cookie set by Login is sent with every later request.
type HTTPTransport struct {
	base   *url.URL
	client *http.Client
	logger hrb.Logger
}

// NewHTTPTransport creates a transport for the server at baseURL. insecure
// disables TLS certificate verification.
func NewHTTPTransport(baseURL string, insecure bool, logger hrb.Logger) (*HTTPTransport, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must be http or https", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	rt := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		rt.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTPTransport{
		base: base,
		client: &http.Client{
			Transport: rt,
			Jar:       jar,
			Timeout:   httpTimeout,
			// Login answers with 303; the redirect target tells success
			// from failure.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

// url joins escaped path elements onto the base URL. An empty last element
// leaves a trailing slash.
func (t *HTTPTransport) url(rawQuery string, elems ...string) string {
	u := *t.base
	p := t.base.EscapedPath()
	for _, e := range elems {
		p += "/" + url.PathEscape(e)
	}
	u.Path, _ = url.PathUnescape(p)
	u.RawPath = p
	u.RawQuery = rawQuery
	return u.String()
}

// drain discards the rest of the body so the connection can be reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func statusError(resp *http.Response, what string) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %s: %w", what, resp.Status, ErrUnauthorized)
	default:
		return fmt.Errorf("%s: unexpected status %s", what, resp.Status)
	}
}

// Login starts a session for user.
func (t *HTTPTransport) Login(ctx context.Context, user, password string) error {
	form := url.Values{"username": {user}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url("", "login"), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusSeeOther {
		return statusError(resp, "logging in")
	}
	if strings.Contains(resp.Header.Get("Location"), "login_incorrect") {
		return fmt.Errorf("logging in as %s: %w", user, ErrUnauthorized)
	}
	if len(resp.Cookies()) == 0 {
		return fmt.Errorf("logging in as %s: no session cookie: %w", user, ErrUnauthorized)
	}

	t.logger.Debug("logged in", "user", user, "server", t.base.Host)
	return nil
}

// Download writes the requested rendition of the blob to w.
func (t *HTTPTransport) Download(ctx context.Context, owner, coll string, id hrb.ObjectID, rendition string, w io.Writer) error {
	if err := checkNames(owner, coll); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url(url.QueryEscape(rendition), "blob", owner, coll, id.String()), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", id, err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return notFound(owner, coll, id, rendition)
	default:
		return statusError(resp, "downloading "+id.String())
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading %s: %w", id, err)
	}
	return nil
}

// Upload sends the content to the logged-in user's collection. The server
// names the stored blob; a name other than id is an error. owner must be the
// logged-in user.
func (t *HTTPTransport) Upload(ctx context.Context, owner, coll string, id hrb.ObjectID, entry hrb.CollEntry, r io.Reader, size int64) error {
	if err := checkNames(owner, coll); err != nil {
		return err
	}
	filename := entry.Filename
	if filename == "" {
		filename = id.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.url("", "upload", coll, filename), r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.ContentLength = size
	if entry.Mime != "" {
		req.Header.Set("Content-Type", entry.Mime)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", filename, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusCreated {
		return statusError(resp, "uploading "+filename)
	}

	loc := resp.Header.Get("Location")
	got, ok := hrb.ParseObjectID(path.Base(loc))
	if !ok {
		return fmt.Errorf("uploading %s: unexpected location %q", filename, loc)
	}
	if got != id {
		return &hrb.IdentityMismatchError{Want: id, Got: got}
	}
	return nil
}

// Load fetches the collection listing. A collection the server does not
// know is empty.
func (t *HTTPTransport) Load(ctx context.Context, owner, coll string) (*hrb.Collection, error) {
	if err := checkNames(owner, coll); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url("json", "view", owner, coll, ""), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loading %s/%s: %w", owner, coll, err)
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return hrb.NewCollection(owner, coll), nil
	default:
		return nil, statusError(resp, "loading "+owner+"/"+coll)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", owner, coll, err)
	}
	return hrb.ParseCollectionJSON(data)
}

var _ Store = (*HTTPTransport)(nil)
