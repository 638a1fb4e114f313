package chromeext

import (
	"net/url"
)

// ParseRedirect extracts the authorization response from the final URL of
// a web auth flow. Fragment parameters win over query parameters.
func ParseRedirect(raw string) (url.Values, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	values := u.Query()
	if u.Fragment == "" {
		return values, nil
	}
	fragment, err := url.ParseQuery(u.EscapedFragment())
	if err != nil {
		return nil, err
	}
	for key, list := range fragment {
		values[key] = list
	}
	return values, nil
}
