// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uacp

import (
	"net/url"

	"github.com/imatic-tech/opcua/errors"
)

// parseURL extracts the "host:port" TCP dial address from an opc.tcp://
// endpoint URL.
func parseURL(endpointURL string) (string, error) {
	u, err := url.Parse(endpointURL)
	if err != nil {
		return "", errors.Wrapf(err, "uacp: invalid endpoint url %q", endpointURL)
	}
	if u.Scheme != "opc.tcp" {
		return "", errors.Errorf("uacp: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.Errorf("uacp: missing host in endpoint url %q", endpointURL)
	}
	return u.Host, nil
}
