/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package anchorutil

import (
	"fmt"
	"net/url"
)

// StringsContains check if the string is present in the string array.
func StringsContains(val string, slice []string) bool {
	for _, s := range slice {
		if val == s {
			return true
		}
	}

	return false
}

// ValidHTTPURL checks if the string is a valid http url.
func ValidHTTPURL(str string) bool {
	u, err := url.Parse(str)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CheckHTTPURLs returns an error naming the first value that is not a valid http url.
func CheckHTTPURLs(name string, values ...string) error {
	for _, v := range values {
		if !ValidHTTPURL(v) {
			return fmt.Errorf("%s must be an http(s) url: %s", name, v)
		}
	}

	return nil
}
