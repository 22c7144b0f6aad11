package librt

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

type (
	// ConnectParams are the URL and headers used for one dial attempt.
	// They are fetched from a ParamsSource before every connect, so
	// rotating credentials are picked up across reconnects.
	ConnectParams struct {
		URL    url.URL
		Header http.Header
	}

	ParamsSource interface {
		Get(ctx context.Context) (ConnectParams, error)
	}

	// ParamsSourceFunc adapts a function to the ParamsSource interface.
	ParamsSourceFunc func(ctx context.Context) (ConnectParams, error)

	// TokenProvider yields the current auth token. Returning an empty
	// token with a nil error means "no auth".
	TokenProvider func(ctx context.Context) (string, error)
)

var NoopConnectParams = ConnectParams{}

func (f ParamsSourceFunc) Get(ctx context.Context) (ConnectParams, error) {
	return f(ctx)
}

// NewStaticParamsSource parses rawURL once and serves it for every dial.
func NewStaticParamsSource(rawURL string, header http.Header) (ParamsSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(ErrCannotConnect, "invalid url %q: %s", rawURL, err)
	}

	return ParamsSourceFunc(func(context.Context) (ConnectParams, error) {
		return ConnectParams{URL: *u, Header: header}, nil
	}), nil
}

// NewTokenParamsSource decorates inner so that the token returned by
// provider is appended to the connection URL as the given query parameter.
// WebSocket and EventSource handshakes cannot carry arbitrary headers from
// browser peers, so query-parameter auth is the portable scheme.
func NewTokenParamsSource(
	inner ParamsSource,
	queryParam string,
	provider TokenProvider,
) ParamsSource {
	return ParamsSourceFunc(func(ctx context.Context) (ConnectParams, error) {
		p, err := inner.Get(ctx)
		if err != nil {
			return NoopConnectParams, err
		}

		token, err := provider(ctx)
		if err != nil {
			return NoopConnectParams, errors.Wrap(err, "fetch auth token")
		}
		if token == "" {
			return p, nil
		}

		q := p.URL.Query()
		q.Set(queryParam, token)
		p.URL.RawQuery = q.Encode()

		return p, nil
	})
}
