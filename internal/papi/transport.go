package papi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/akamai/AkamaiOPEN-edgegrid-golang/v8/pkg/edgegrid"
)

// Credentials are the EdgeGrid client credentials read from an .edgerc section.
type Credentials struct {
	Host       string
	AccountKey string

	signer *edgegrid.Config
}

// LoadCredentials reads section from the .edgerc file at path.
func LoadCredentials(path, section string) (*Credentials, error) {
	if section == "" {
		section = edgegrid.DefaultSection
	}
	cfg, err := edgegrid.New(edgegrid.WithSection(section), edgegrid.WithFile(path))
	if err != nil {
		return nil, fmt.Errorf("load credentials from %s [%s]: %w", path, section, err)
	}
	return newCredentials(cfg), nil
}

func newCredentials(cfg *edgegrid.Config) *Credentials {
	creds := &Credentials{
		Host:       strings.TrimRight(cfg.Host, "/"),
		AccountKey: cfg.AccountKey,
		signer:     cfg,
	}
	// The client adds the account switch key itself so a flag can override it.
	cfg.AccountKey = ""
	return creds
}

// BaseURL is the API root the credentials are valid for.
func (c *Credentials) BaseURL() string {
	if strings.HasPrefix(c.Host, "http://") || strings.HasPrefix(c.Host, "https://") {
		return c.Host
	}
	return "https://" + c.Host
}

// NewHTTPClient returns an HTTP client that signs every request with creds.
func NewHTTPClient(creds *Credentials, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &signingTransport{signer: creds.signer, next: http.DefaultTransport},
	}
}

type signingTransport struct {
	signer *edgegrid.Config
	next   http.RoundTripper
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	signed := req.Clone(req.Context())
	if err := rewind(req, signed); err != nil {
		return nil, err
	}
	t.signer.SignRequest(signed)
	// Signing hashes the body, so hand the next transport a fresh copy.
	if err := rewind(req, signed); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(signed)
}

func rewind(orig, clone *http.Request) error {
	if orig.GetBody == nil {
		return nil
	}
	body, err := orig.GetBody()
	if err != nil {
		return fmt.Errorf("rewind request body: %w", err)
	}
	clone.Body = body
	return nil
}
