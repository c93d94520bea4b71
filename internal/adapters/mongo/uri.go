package mongo

import (
	"net/url"
	"regexp"
	"strings"
)

const redacted = "<redacted>"

var userinfoPattern = regexp.MustCompile(`://[^@/]+@`)

// RedactURI hides credentials in a connection string
func RedactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return userinfoPattern.ReplaceAllString(uri, "://"+redacted+"@")
	}
	if u.User == nil {
		return u.String()
	}
	u.User = nil
	return strings.Replace(u.String(), "://", "://"+redacted+"@", 1)
}

// CollectionURL is the redacted base of uri without options, followed by
// "/db.collection"
func CollectionURL(uri, database, collection string) string {
	base, _, _ := strings.Cut(RedactURI(uri), "?")
	return strings.TrimSuffix(base, "/") + "/" + database + "." + collection
}
