// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/absmach/coapcore/pkg/coap/message"
	"github.com/absmach/coapcore/pkg/errors"
)

// ErrUnsupportedScheme indicates a URL scheme other than coap/coaps.
var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// ErrInvalidURL indicates a URL that does not parse into host/path.
var ErrInvalidURL = errors.New("invalid URL")

// DefaultPort is the CoAP well-known port, per RFC 7252.
const DefaultPort = 5683

// parsedURL is the decomposition of a coap:// URL per spec.md §4.5:
// host/port feed Dial, options feed the built request.
type parsedURL struct {
	host    string
	port    int
	options message.Options
}

// parseURL accepts coap://host[:port]/path[?query], per spec.md §4.5.
// A literal IP host adds no uri_host option; an empty or "/"-only
// path adds no uri_path option.
func parseURL(raw string) (parsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return parsedURL{}, errors.Wrap(ErrInvalidURL, err)
	}
	if u.Scheme != "coap" && u.Scheme != "coaps" {
		return parsedURL{}, errors.Wrap(ErrUnsupportedScheme, errors.New(u.Scheme))
	}
	if u.Hostname() == "" {
		return parsedURL{}, errors.Wrap(ErrInvalidURL, errors.New("missing host"))
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return parsedURL{}, errors.Wrap(ErrInvalidURL, err)
		}
		port = n
	}

	// Per RFC 7252 §5.10.1, Uri-Host/Uri-Port are only needed when they
	// diverge from the transport's own destination address; a literal
	// IP or the default port carries no extra information on the wire.
	var opts message.Options
	if net.ParseIP(u.Hostname()) == nil {
		opts = opts.Add(message.URIHost, []byte(u.Hostname()))
	}
	if port != DefaultPort {
		opts = opts.AddUint(message.URIPort, uint32(port))
	}

	path := strings.Trim(u.Path, "/")
	if path != "" {
		for _, seg := range strings.Split(path, "/") {
			if seg == "" {
				continue
			}
			opts = opts.Add(message.URIPath, []byte(seg))
		}
	}

	if u.RawQuery != "" {
		for _, q := range strings.Split(u.RawQuery, "&") {
			if q == "" {
				continue
			}
			opts = opts.Add(message.URIQuery, []byte(q))
		}
	}

	return parsedURL{host: u.Hostname(), port: port, options: opts}, nil
}
