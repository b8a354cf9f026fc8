package manager

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/crypto/hkdf"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/kdf"
)

// Source names an entropy origin for the random endpoint.
type Source string

const (
	SourcePlatform Source = "platform"
	SourceLavarand Source = "lavarand"
	SourceAll      Source = "all"
)

// MaxRandomBytes caps one request. Larger outputs should be expanded
// client-side from a seed.
const MaxRandomBytes = 4096

var (
	ErrUnknownSource    = errors.New("unknown entropy source")
	ErrInvalidByteCount = errors.New("invalid byte count")
	ErrBeaconDisabled   = errors.New("entropy beacon not configured")
	ErrBeaconRequest    = errors.New("entropy beacon request failed")
)

// ParseSource validates a caller-supplied source name.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourcePlatform, SourceLavarand, SourceAll:
		return Source(s), nil
	default:
		return "", errs.Wrapf(ErrUnknownSource, s)
	}
}

// RandomManager serves entropy from the platform CSPRNG, an external
// beacon, or an HKDF mix of both.
type RandomManager struct {
	cfg    config.Random
	client *http.Client
}

func NewRandomManager(cfg config.Random) *RandomManager {
	retrying := retryablehttp.NewClient()
	retrying.HTTPClient = cleanhttp.DefaultPooledClient()
	retrying.HTTPClient.Timeout = cfg.Timeout
	retrying.RetryMax = 2
	retrying.Logger = nil

	return &RandomManager{
		cfg:    cfg,
		client: retrying.StandardClient(),
	}
}

// Bytes returns n random bytes from the requested source. The "all" source
// mixes platform and beacon entropy through a single HKDF expansion so a
// weakness in either source alone cannot bias the output.
func (m *RandomManager) Bytes(
	ctx context.Context,
	permissions auth.Permissions,
	source Source,
	n int,
) ([]byte, error) {
	if !permissions.Allows(func(g auth.KeyringPermissions) bool { return g.Random }) {
		return nil, errs.Wrapf(ErrNotPermitted, "random")
	}

	if n <= 0 || n > MaxRandomBytes {
		return nil, errs.Wrapf(ErrInvalidByteCount, strconv.Itoa(n))
	}

	switch source {
	case SourcePlatform:
		return platformBytes(n)
	case SourceLavarand:
		return m.beaconBytes(ctx, n)
	case SourceAll:
		return m.mixedBytes(ctx, n)
	default:
		return nil, errs.Wrapf(ErrUnknownSource, string(source))
	}
}

func platformBytes(n int) ([]byte, error) {
	out := make([]byte, n)

	_, err := rand.Read(out)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (m *RandomManager) beaconBytes(ctx context.Context, n int) ([]byte, error) {
	if m.cfg.BeaconURL == "" {
		return nil, ErrBeaconDisabled
	}

	url := fmt.Sprintf("%s?bytes=%d", m.cfg.BeaconURL, n)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(ErrBeaconRequest, err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(ErrBeaconRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Wrapf(ErrBeaconRequest, "status "+strconv.Itoa(resp.StatusCode))
	}

	out := make([]byte, n)

	_, err = io.ReadFull(resp.Body, out)
	if err != nil {
		return nil, errs.Wrap(ErrBeaconRequest, err)
	}

	return out, nil
}

func (m *RandomManager) mixedBytes(ctx context.Context, n int) ([]byte, error) {
	platform, err := platformBytes(n)
	if err != nil {
		return nil, err
	}

	beacon, err := m.beaconBytes(ctx, n)
	if err != nil {
		return nil, err
	}

	salt, err := platformBytes(n)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)

	_, err = io.ReadFull(
		hkdf.New(mixHash(n).New(), append(platform, beacon...), salt, nil), out)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// mixHash picks the smallest digest whose output covers the requested size,
// topping out at SHA-512 for anything larger.
func mixHash(n int) kdf.Hash {
	switch {
	case n <= 32:
		return kdf.SHA256
	case n <= 48:
		return kdf.SHA384
	default:
		return kdf.SHA512
	}
}
